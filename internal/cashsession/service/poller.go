package service

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/cashstation/internal/clock"
)

// poller ticks a callback until stopped. Stop does not wait so it can be
// called from inside the callback; Wait blocks until the loop has exited.
type poller struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func startPoller(clk clock.Clock, interval time.Duration, tick func(context.Context)) *poller {
	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{cancel: cancel, done: make(chan struct{})}
	ticker := clk.NewTicker(interval)
	go func() {
		defer close(p.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				tick(ctx)
			}
		}
	}()
	return p
}

func (p *poller) Stop() {
	p.once.Do(p.cancel)
}

func (p *poller) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
