package taengine

import (
	"context"
	"log"
	"time"
)

// snapshotLoop periodically saves engine state to Redis and SQLite.
func (svc *Service) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(svc.cfg.SnapshotIntervalS) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.engineMu.Lock()
			snap := svc.engine.Snapshot(svc.getLastStreamID())
			svc.engineMu.Unlock()

			// Save to Redis
			if err := svc.redisReader.WriteSnapshot(ctx, svc.cfg.SnapshotKey, snap); err != nil {
				log.Printf("[taengine] redis snapshot write error: %v", err)
			}

			// Save to SQLite
			if svc.sqlWriter != nil {
				if err := svc.sqlWriter.SaveSnapshot(snap); err != nil {
					log.Printf("[taengine] sqlite snapshot write error: %v", err)
				}
			}

			svc.prom.SnapshotsTotal.Inc()
			log.Printf("[taengine] ✅ checkpoint saved (%d series)", len(snap.Series))
		}
	}
}
