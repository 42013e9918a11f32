package taengine

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"quantedge-ta/internal/engine"
	"quantedge-ta/internal/metrics"
	"quantedge-ta/internal/model"
)

// startHTTP launches the HTTP server exposing /metrics, /healthz, /reload
// and the /ws result fan-out endpoint.
func (svc *Service) startHTTP(ctx context.Context) {
	svc.httpSrv = metrics.NewServer(svc.cfg.HTTPAddr, svc.health)
	svc.httpSrv.HandleFunc("/reload", svc.handleReload)
	svc.httpSrv.HandleFunc("/ws", svc.hub.ServeWS)
	svc.httpSrv.Start()
	log.Printf("[taengine] HTTP server on %s (/metrics, /healthz, /reload, /ws)", svc.cfg.HTTPAddr)
}

// reloadRequest is the POST /reload body.
type reloadRequest struct {
	Specs string `json:"specs"` // e.g. "SMA:20,EMA:21@hl2,BB:20:2.5,RSI:14"
}

// handleReload handles POST /reload for live indicator spec updates.
func (svc *Service) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req reloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	newSpecs, err := engine.ParseSpecs(req.Specs)
	if err != nil {
		http.Error(w, "parse: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := engine.ValidateSpecs(newSpecs); err != nil {
		http.Error(w, "validation: "+err.Error(), http.StatusBadRequest)
		return
	}

	preserved, created := svc.applySpecs(r.Context(), newSpecs)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"preserved": preserved,
		"created":   created,
	})
}

// startConfigSubscriber listens on Redis PubSub for dynamic spec updates.
func (svc *Service) startConfigSubscriber(ctx context.Context) {
	go func() {
		pubsub := svc.redisReader.SubscribeChannel(ctx, "config:indicators")
		if pubsub == nil {
			log.Println("[taengine] WARNING: could not subscribe to config:indicators")
			return
		}
		defer pubsub.Close()
		log.Println("[taengine] subscribed to config:indicators for dynamic reload")

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				log.Printf("[taengine] received config update: %s", msg.Payload)
				newSpecs, err := engine.ParseSpecs(msg.Payload)
				if err != nil {
					log.Printf("[taengine] invalid spec update: %v", err)
					continue
				}
				if err := engine.ValidateSpecs(newSpecs); err != nil {
					log.Printf("[taengine] invalid spec update: %v", err)
					continue
				}
				svc.applySpecs(ctx, newSpecs)
			}
		}
	}()
}

// applySpecs reloads the engine with new specs, preserving state for
// unchanged indicators. Newly created indicators are backfilled from the
// Redis bar streams so they converge before going live; the replay feeds
// only those instances, so preserved state never sees a historical bar.
func (svc *Service) applySpecs(ctx context.Context, newSpecs []engine.Spec) (preserved, created int) {
	svc.engineMu.Lock()
	preserved, createdNames := svc.engine.ReloadSpecs(newSpecs)
	svc.engineMu.Unlock()
	created = len(createdNames)
	svc.cfg.Specs = newSpecs
	svc.prom.ReloadsTotal.Inc()
	svc.health.SetSpecs(specNames(newSpecs))
	log.Printf("[taengine] reloaded: preserved=%d, created=%d", preserved, created)

	if created == 0 {
		return preserved, created
	}
	nameSet := make(map[string]bool, created)
	for _, n := range createdNames {
		nameSet[n] = true
	}

	// Backfill new indicators from Redis bar streams
	backfillCh := make(chan model.Bar, 5000)
	go func() {
		for _, stream := range svc.streams {
			_, err := svc.redisReader.ReplayFromID(ctx, stream, "0", backfillCh)
			if err != nil {
				log.Printf("[taengine] reload backfill error on %s: %v", stream, err)
			}
		}
		close(backfillCh)
	}()

	backfillCount := 0
	for bar := range backfillCh {
		if bar.Forming {
			continue
		}
		svc.engineMu.Lock()
		results := svc.engine.ProcessNamed(bar, nameSet)
		svc.engineMu.Unlock()
		if len(results) > 0 {
			svc.buffered.WriteResults(results)
		}
		backfillCount++
	}
	log.Printf("[taengine] ✅ reload backfill: processed %d bars for new indicators", backfillCount)
	return preserved, created
}
