package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// SyncScheduler drives periodic background sync runs. The orchestrator's
// own single-flight gate handles overlap with manual runs; the scheduler
// just skips the cycle when one is active.
type SyncScheduler struct {
	orchestrator  *SyncOrchestrator
	reviewService *ReviewService
	interval      time.Duration
	stopChan      chan struct{}
	running       bool
	mu            sync.Mutex
}

// NewSyncScheduler creates a scheduler. interval <= 0 disables it.
func NewSyncScheduler(orchestrator *SyncOrchestrator, reviewService *ReviewService, interval time.Duration) *SyncScheduler {
	return &SyncScheduler{
		orchestrator:  orchestrator,
		reviewService: reviewService,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the periodic sync loop
func (s *SyncScheduler) Start() {
	if s.interval <= 0 {
		log.Println("[SyncScheduler] Disabled (no interval configured)")
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	log.Printf("[SyncScheduler] Starting with interval: %v", s.interval)

	go func() {
		// 启动后等待 10 秒再执行第一次同步，让服务完全就绪
		select {
		case <-time.After(10 * time.Second):
			s.runCycle()
		case <-s.stopChan:
			return
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runCycle()
			case <-s.stopChan:
				log.Println("[SyncScheduler] Stopping")
				return
			}
		}
	}()
}

// Stop stops the periodic sync loop
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	close(s.stopChan)
	s.running = false
}

// runCycle performs one scheduled pass with retries, plus the review queue
// expiry sweep
func (s *SyncScheduler) runCycle() {
	if _, err := s.reviewService.SweepExpired(); err != nil {
		log.Printf("[SyncScheduler] Review expiry sweep failed: %v", err)
	}

	const maxRetries = 2
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// 指数退避：第1次重试等2秒，第2次等4秒
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			log.Printf("[SyncScheduler] Retry %d/%d after %v", attempt, maxRetries, backoff)

			select {
			case <-time.After(backoff):
			case <-s.stopChan:
				return
			}
		}

		run, err := s.orchestrator.RunSync(context.Background(), SyncOptions{})
		if err == nil {
			if run.JobsFound > 0 || run.EmailsFetched > 0 {
				log.Printf("[SyncScheduler] Sync run %d: %d fetched, %d jobs found", run.ID, run.EmailsFetched, run.JobsFound)
			}
			return
		}
		if errors.Is(err, ErrSyncInProgress) {
			log.Println("[SyncScheduler] Manual sync in progress, skipping this cycle")
			return
		}
		if errors.Is(err, ErrNoAccounts) {
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}

		lastErr = err
		log.Printf("[SyncScheduler] Sync attempt %d failed: %v", attempt+1, err)
	}

	log.Printf("[SyncScheduler] Sync failed after %d attempts: %v", maxRetries+1, lastErr)
}
