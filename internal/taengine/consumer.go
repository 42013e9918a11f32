package taengine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

// startConsumer starts the Redis stream XREADGROUP consumer in a goroutine.
func (svc *Service) startConsumer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go func() {
		if err := svc.redisReader.ConsumeBars(ctx, svc.streams, svc.barCh); err != nil {
			log.Printf("[taengine] consumer error: %v", err)
		}
	}()
}

// startPELReclaimer starts periodic reclamation of stale PEL messages.
func (svc *Service) startPELReclaimer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go svc.redisReader.StartPELReclaimer(ctx, svc.streams,
		time.Duration(svc.cfg.PELIntervalS)*time.Second,
		svc.cfg.PELMinIdleMs, svc.barCh,
		func(count int) {
			svc.prom.PELMessagesReclaimed.Add(float64(count))
			log.Printf("[taengine] reclaimed %d stale PEL messages", count)
		})
	log.Printf("[taengine] PEL reclaimer started (interval=%ds, minIdle=%dms)",
		svc.cfg.PELIntervalS, svc.cfg.PELMinIdleMs)
}

// processLoop consumes bars from the channel and computes indicators.
// Closed bars advance the window; forming bars repaint the newest slot.
func (svc *Service) processLoop(ctx context.Context) {
	const (
		latencyKey           = "metrics:taengine:compute_ms"
		latencyTTL           = 30 * time.Second
		latencyPublishMinDur = 2 * time.Second
		latencyAlpha         = 0.2
	)
	var (
		latencyEwmaMs      float64
		lastLatencyPublish time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-svc.barCh:
			if !ok {
				return
			}
			bar := msg.Bar

			start := time.Now()
			svc.engineMu.Lock()
			results := svc.engine.Process(bar)
			seriesCount := svc.engine.SeriesCount()
			svc.engineMu.Unlock()
			elapsed := time.Since(start)

			svc.prom.ComputeDur.Observe(elapsed.Seconds())
			svc.prom.SeriesActive.Set(float64(seriesCount))
			if bar.Forming {
				svc.prom.FormingBarsTotal.Inc()
			} else {
				svc.prom.BarsTotal.Inc()
				svc.health.SetLastBarTime(time.Now())
				if msg.StreamID != "" {
					svc.setLastStreamID(msg.StreamID)
				}
				// Persist closed bars for warmup backfill after restarts
				if svc.sqlWriter != nil {
					select {
					case svc.sqlBarCh <- bar:
					default:
					}
				}
			}
			for i := range results {
				if kind, _, found := strings.Cut(results[i].Name, "_"); found {
					svc.prom.ResultsTotal.WithLabelValues(kind).Inc()
				}
			}

			// Track EWMA latency and publish periodically
			latencyMs := float64(elapsed.Microseconds()) / 1000.0
			if latencyEwmaMs == 0 {
				latencyEwmaMs = latencyMs
			} else {
				latencyEwmaMs = latencyEwmaMs*(1.0-latencyAlpha) + latencyMs*latencyAlpha
			}
			svc.prom.ResultLag.Set(latencyEwmaMs / 1000.0)
			if time.Since(lastLatencyPublish) >= latencyPublishMinDur {
				cctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
				if cctx.Err() == nil {
					_ = svc.redisWriter.Client().Set(
						cctx,
						latencyKey,
						fmt.Sprintf("%.3f", latencyEwmaMs),
						latencyTTL,
					).Err()
				}
				cancel()
				lastLatencyPublish = time.Now()
			}

			// Batch all results into a single Redis pipeline, then fan out to WS
			if len(results) > 0 {
				wStart := time.Now()
				svc.buffered.WriteResults(results)
				svc.prom.RedisWriteDur.Observe(time.Since(wStart).Seconds())
				svc.hub.BroadcastResults(results)
			}
		}
	}
}
