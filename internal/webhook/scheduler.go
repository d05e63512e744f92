package webhook

import (
	"context"
	"log"
	"time"
)

// Scheduler sweeps due pending events on a background interval. Together with
// the startup sweep it is the sole retry mechanism; there are no in-memory
// retry timers.
type Scheduler struct {
	engine    *Engine
	interval  time.Duration
	batchSize int
	ticker    *time.Ticker
	done      chan struct{}
}

func NewScheduler(e *Engine, interval time.Duration, batchSize int) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Scheduler{engine: e, interval: interval, batchSize: batchSize}
}

// Start begins the background ticker for retrying webhook deliveries.
func (s *Scheduler) Start() {
	s.ticker = time.NewTicker(s.interval)
	s.done = make(chan struct{})
	go s.run()
	log.Printf("Webhook scheduler started (%s interval)", s.interval)
}

// Stop halts the background ticker.
func (s *Scheduler) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	if s.done != nil {
		close(s.done)
	}
}

func (s *Scheduler) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.ticker.C:
			n, err := s.engine.ProcessPendingRetries(context.Background(), s.batchSize)
			if err != nil {
				log.Printf("ERROR: webhook sweep: %v", err)
			} else if n > 0 {
				log.Printf("Webhook sweep processed %d due events", n)
			}
		}
	}
}
