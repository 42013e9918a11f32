package taengine

import (
	"context"
	"log"
	"time"

	"quantedge-ta/internal/model"
	redisstore "quantedge-ta/internal/store/redis"
)

// startLiveIngress subscribes to forming-bar PubSub and drains ticks through
// the SPSC ring buffer into the main bar channel. The ring absorbs repaint
// bursts without blocking the PubSub receiver; overflowed ticks are dropped
// since each repaint supersedes the previous one.
func (svc *Service) startLiveIngress(ctx context.Context) {
	subCh := make(chan model.Bar, 256)

	// Producer: PubSub → ring
	go func() {
		if err := svc.redisReader.SubscribeFormingBars(ctx, subCh); err != nil {
			log.Printf("[taengine] forming-bar subscription error: %v", err)
		}
	}()
	go func() {
		lastOverflow := uint64(0)
		for {
			select {
			case <-ctx.Done():
				return
			case bar, ok := <-subCh:
				if !ok {
					return
				}
				svc.liveRing.Push(bar)
				if of := svc.liveRing.Overflow(); of > lastOverflow {
					svc.prom.RingBufOverflow.Add(float64(of - lastOverflow))
					lastOverflow = of
				}
			}
		}
	}()

	// Consumer: ring → barCh
	go func() {
		for {
			if ctx.Err() != nil {
				return
			}
			bar, ok := svc.liveRing.Pop()
			if !ok {
				time.Sleep(2 * time.Millisecond)
				continue
			}
			select {
			case svc.barCh <- redisstore.BarMessage{Bar: bar}:
			case <-ctx.Done():
				return
			}
		}
	}()
}
