package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"complyline/internal/domain"
)

const (
	defaultPollInterval = 5 * time.Minute
	maxPollBackoff      = 30 * time.Minute
)

// PassFunc runs one monitoring pass and returns the alerts it created.
type PassFunc func(ctx context.Context) ([]domain.Alert, error)

// Poller runs monitoring passes on a fixed interval. There is no external
// scheduler; the poller is the only thing that makes time-based alerts
// appear, so a deployment without a running poller raises nothing until the
// next manual pass.
type Poller struct {
	Interval time.Duration
	Run      PassFunc

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(interval time.Duration, run PassFunc) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{Interval: interval, Run: run}
}

// Start launches the poll loop. The first pass runs immediately. Calling
// Start on a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
}

// Stop cancels the loop and waits for the in-flight pass to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	backoff := p.Interval
	for {
		created, err := p.Run(ctx)
		delay := p.Interval
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("monitor: pass failed: %v", err)
			backoff *= 2
			if backoff > maxPollBackoff {
				backoff = maxPollBackoff
			}
			delay = backoff
		} else {
			backoff = p.Interval
			if len(created) > 0 {
				log.Printf("monitor: pass created %d alert(s)", len(created))
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}
