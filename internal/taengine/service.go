package taengine

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"quantedge-ta/internal/engine"
	"quantedge-ta/internal/gateway"
	"quantedge-ta/internal/metrics"
	"quantedge-ta/internal/model"
	"quantedge-ta/internal/ringbuf"
	redisstore "quantedge-ta/internal/store/redis"
	sqlitestore "quantedge-ta/internal/store/sqlite"
)

// Service is the top-level orchestrator for the indicator engine.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg Config

	engineMu sync.Mutex // guards engine across consumer, reload and snapshot goroutines
	engine   *engine.Engine

	redisReader *redisstore.Reader
	redisWriter *redisstore.Writer
	breaker     *redisstore.CircuitBreaker
	buffered    *redisstore.BufferedWriter
	sqlReader   *sqlitestore.Reader
	sqlWriter   *sqlitestore.Writer
	prom        *metrics.Metrics
	health      *metrics.HealthStatus
	httpSrv     *metrics.Server
	hub         *gateway.Hub

	streams  []string
	barCh    chan redisstore.BarMessage
	liveRing *ringbuf.Ring
	sqlBarCh chan model.Bar

	idMu         sync.Mutex
	lastStreamID string
}

// New creates a new Service from the given Config.
// It connects to Redis and SQLite; the engine is restored in Run.
func New(cfg Config) (*Service, error) {
	svc := &Service{
		cfg:      cfg,
		prom:     metrics.NewMetrics(),
		health:   metrics.NewHealthStatus(),
		hub:      gateway.NewHub(),
		barCh:    make(chan redisstore.BarMessage, 5000),
		liveRing: ringbuf.New(4096),
		sqlBarCh: make(chan model.Bar, 5000),
	}

	// ---- Connect to Redis ----
	var err error
	svc.redisReader, err = redisstore.NewReader(redisstore.ReaderConfig{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  cfg.ConsumerName,
	})
	if err != nil {
		return nil, err
	}

	svc.redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		svc.redisReader.Close()
		return nil, err
	}

	// ---- Circuit breaker around result writes ----
	svc.breaker = redisstore.NewCircuitBreaker(cfg.CBMaxFailures, time.Duration(cfg.CBResetTimeoutS)*time.Second)
	svc.breaker.OnStateChange = func(from, to redisstore.State) {
		log.Printf("[taengine] redis circuit breaker: %s → %s", from, to)
		svc.prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			svc.prom.RedisCircuitBreakerTrips.Inc()
		}
	}
	svc.buffered = redisstore.NewBufferedWriter(context.Background(), svc.redisWriter, svc.breaker, 10000)
	svc.buffered.OnBuffer = func(count int) {
		svc.prom.RedisBufferedWrites.Add(float64(count))
	}
	svc.buffered.OnFlush = func(count int) {
		log.Printf("[taengine] circuit closed, flushed %d buffered results", count)
	}

	// ---- Wire hub metrics ----
	svc.hub.OnClientCount = func(n int) { svc.prom.WSClients.Set(float64(n)) }
	svc.hub.OnDrop = func() { svc.prom.WSDropped.Inc() }

	// ---- Open SQLite ----
	os.MkdirAll("data", 0o755)
	svc.sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Printf("[taengine] WARNING: sqlite writer init failed: %v", err)
	} else {
		svc.sqlWriter.OnCommit = func(d time.Duration, rows int) {
			svc.prom.SQLiteCommitDur.Observe(d.Seconds())
		}
	}
	svc.sqlReader, err = sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Printf("[taengine] WARNING: sqlite reader init failed: %v (continuing without SQLite backfill)", err)
	}

	return svc, nil
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	log.Println("[taengine] starting Technical Analysis Engine...")

	// ---- Restore engine from snapshot ----
	if err := svc.restoreEngine(ctx); err != nil {
		return err
	}

	// ---- Discover / build streams ----
	svc.streams = svc.buildStreams(ctx)
	log.Printf("[taengine] consuming from %d streams: %v", len(svc.streams), svc.streams)

	// ---- Replay delta from snapshot ----
	svc.replayDelta(ctx)

	// ---- Ensure consumer groups ----
	if len(svc.streams) > 0 {
		if err := svc.redisReader.EnsureConsumerGroup(ctx, svc.streams); err != nil {
			log.Printf("[taengine] WARNING: consumer group setup: %v", err)
		}
	}

	// ---- Recover pending messages ----
	if len(svc.streams) > 0 {
		if err := svc.redisReader.RecoverPending(ctx, svc.streams, svc.barCh); err != nil {
			log.Printf("[taengine] pending recovery error: %v", err)
		}
	}

	// ---- Start subsystems ----
	svc.startPELReclaimer(ctx)
	go svc.processLoop(ctx)
	svc.startConsumer(ctx)
	svc.startLiveIngress(ctx)
	go svc.snapshotLoop(ctx)
	if svc.sqlWriter != nil {
		go svc.sqlWriter.Run(ctx, svc.sqlBarCh)
	}
	svc.startHTTP(ctx)
	svc.startConfigSubscriber(ctx)

	svc.health.SetConsumerOK(true)
	svc.health.SetRedisConnected(true)
	svc.health.SetSQLiteOK(svc.sqlWriter != nil)
	svc.health.SetSpecs(specNames(cfg.Specs))
	if svc.sqlWriter != nil {
		svc.health.StartLivenessChecker(ctx, svc.redisWriter.Client(), svc.sqlWriter.DB(), 10*time.Second)
	} else {
		svc.health.StartLivenessChecker(ctx, svc.redisWriter.Client(), nil, 10*time.Second)
	}

	// ---- Startup banner ----
	log.Println("[taengine] ╔════════════════════════════════════════════════════════╗")
	log.Println("[taengine] ║  Technical Analysis Engine Active                      ║")
	log.Println("[taengine] ║                                                        ║")
	log.Println("[taengine] ║  [Redis Streams] → [Indicators] → [Redis Publish]      ║")
	log.Printf("[taengine] ║  Snapshot checkpoint every %ds                        ║", cfg.SnapshotIntervalS)
	log.Printf("[taengine] ║  Intervals: %v                                 ║", cfg.Intervals)
	log.Println("[taengine] ╚════════════════════════════════════════════════════════╝")
	log.Println("[taengine] ✅ all systems running. Press Ctrl+C to stop.")

	// Block until context cancelled
	<-ctx.Done()

	// ---- Graceful shutdown ----
	svc.shutdown()
	return nil
}

// shutdown saves a final snapshot and closes connections.
func (svc *Service) shutdown() {
	log.Println("[taengine] shutdown signal received, saving final snapshot...")

	svc.engineMu.Lock()
	finalSnap := svc.engine.Snapshot(svc.getLastStreamID())
	svc.engineMu.Unlock()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutCancel()

	if err := svc.redisReader.WriteSnapshot(shutCtx, svc.cfg.SnapshotKey, finalSnap); err != nil {
		log.Printf("[taengine] final redis snapshot error: %v", err)
	}
	if svc.sqlWriter != nil {
		if err := svc.sqlWriter.SaveSnapshot(finalSnap); err != nil {
			log.Printf("[taengine] final sqlite snapshot error: %v", err)
		}
	}
	log.Println("[taengine] final snapshot saved")

	if svc.httpSrv != nil {
		svc.httpSrv.Stop(shutCtx)
	}
	if svc.sqlReader != nil {
		svc.sqlReader.Close()
	}
	if svc.sqlWriter != nil {
		svc.sqlWriter.Close()
	}
	svc.redisWriter.Close()
	svc.redisReader.Close()

	log.Println("[taengine] shutdown complete.")
}

// restoreEngine restores the engine from a Redis or SQLite snapshot,
// then backfills from SQLite to warm up cold series.
func (svc *Service) restoreEngine(ctx context.Context) error {
	restorer := engine.NewRestorer(svc.cfg.Specs)

	// Try Redis snapshot first
	snap, err := svc.redisReader.ReadSnapshot(ctx, svc.cfg.SnapshotKey)
	if err != nil {
		log.Printf("[taengine] redis snapshot read error: %v", err)
	}

	// Fallback to SQLite
	if snap == nil && svc.sqlReader != nil {
		snap, err = svc.sqlReader.ReadLatestSnapshot()
		if err != nil {
			log.Printf("[taengine] sqlite snapshot read error: %v", err)
		}
	}

	svc.engine = restorer.RestoreFromSnap(snap)
	if snap != nil {
		svc.setLastStreamID(snap.StreamID)
	}

	// Backfill from SQLite to warm up cold indicators
	if svc.sqlReader != nil {
		fed := restorer.Backfill(svc.engine, svc.sqlReader, func(results []model.Result) {
			svc.buffered.WriteResults(results)
		})
		if fed > 0 {
			log.Printf("[taengine] warmed up indicators with %d historical bars", fed)
		}
	}

	svc.prom.SeriesActive.Set(float64(svc.engine.SeriesCount()))
	return nil
}

// buildStreams discovers or constructs the Redis stream names to consume.
func (svc *Service) buildStreams(ctx context.Context) []string {
	if len(svc.cfg.Symbols) > 0 {
		var streams []string
		for _, iv := range svc.cfg.Intervals {
			for _, sym := range svc.cfg.Symbols {
				streams = append(streams, "bars:"+iv+":"+sym)
			}
		}
		return streams
	}
	return svc.redisReader.DiscoverBarStreams(ctx, svc.cfg.Intervals, svc.cfg.Symbols)
}

// replayDelta replays bars since the snapshot to catch up on missed data.
func (svc *Service) replayDelta(ctx context.Context) {
	startID := svc.getLastStreamID()
	if startID == "" {
		return
	}

	log.Printf("[taengine] replaying delta from stream ID: %s", startID)
	replayCh := make(chan model.Bar, 5000)
	go func() {
		for _, stream := range svc.streams {
			_, err := svc.redisReader.ReplayFromID(ctx, stream, startID, replayCh)
			if err != nil {
				log.Printf("[taengine] replay error on %s: %v", stream, err)
			}
		}
		close(replayCh)
	}()

	deltaCount := 0
	for bar := range replayCh {
		if bar.Forming {
			continue
		}
		svc.engineMu.Lock()
		results := svc.engine.Process(bar)
		svc.engineMu.Unlock()
		if len(results) > 0 {
			svc.buffered.WriteResults(results)
		}
		deltaCount++
	}
	if deltaCount > 0 {
		log.Printf("[taengine] ✅ replayed %d delta bars (results written to Redis)", deltaCount)
	}
}

func (svc *Service) setLastStreamID(id string) {
	svc.idMu.Lock()
	svc.lastStreamID = id
	svc.idMu.Unlock()
}

func (svc *Service) getLastStreamID() string {
	svc.idMu.Lock()
	defer svc.idMu.Unlock()
	return svc.lastStreamID
}

func specNames(specs []engine.Spec) []string {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name()
	}
	return names
}
