// ABOUTME: Long-lived expiry sweep loop for stale open threads
// ABOUTME: Periodically bulk-expires threads idle past the configured age

package thread

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper periodically expires open threads whose last activity is older
// than the configured age. The sweep itself is idempotent, so overlapping
// or restarted sweepers are harmless.
type Sweeper struct {
	service     *Service
	interval    time.Duration
	expireAfter time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewSweeper creates an expiry sweeper. interval controls how often the
// sweep runs; expireAfter is the idle age past which open threads expire.
func NewSweeper(service *Service, interval, expireAfter time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		service:     service,
		interval:    interval,
		expireAfter: expireAfter,
		logger:      logger.With("component", "thread_sweeper"),
	}
}

// Start launches the sweep loop. Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn("sweeper already running")
		return
	}
	s.running = true
	s.done = make(chan struct{})

	s.wg.Add(1)
	go s.run()

	s.logger.Info("thread expiry sweeper started",
		"interval", s.interval,
		"expire_after", s.expireAfter)
}

// Stop cancels the loop and waits for an in-flight sweep to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("thread expiry sweeper stopped")
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

// sweep runs one expiry pass with its own timeout context so a stop
// request never kills mid-transaction work.
func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := s.service.ExpireOldThreads(ctx, s.expireAfter)
	if err != nil {
		s.logger.Error("expiry sweep failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("expiry sweep complete", "expired", count)
	}
}
