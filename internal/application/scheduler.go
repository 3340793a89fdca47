package application

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler repeats full pipeline passes on a fixed interval. A pause
// file suspends passes without stopping the process, and the active
// pipeline can be swapped on config reload.
type Scheduler struct {
	log       *zap.Logger
	every     time.Duration
	pauseFile string

	mu   sync.RWMutex
	pipe *Pipeline
}

func NewScheduler(l *zap.Logger, pipe *Pipeline, every time.Duration, pauseFile string) *Scheduler {
	return &Scheduler{log: l, pipe: pipe, every: every, pauseFile: pauseFile}
}

// UpdatePipeline swaps the pipeline used by subsequent passes.
func (s *Scheduler) UpdatePipeline(pipe *Pipeline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipe = pipe
	s.log.Info("pipeline reloaded")
}

func (s *Scheduler) Run(ctx context.Context) {
	t := time.NewTicker(s.every)
	defer t.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.isPaused() {
		s.log.Debug("paused: skipping pass")
		return
	}

	s.mu.RLock()
	pipe := s.pipe
	s.mu.RUnlock()

	start := time.Now()
	if err := pipe.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("pass failed", zap.Error(err))
		return
	}
	s.log.Info("pass complete", zap.Duration("took", time.Since(start)))
}

func (s *Scheduler) isPaused() bool {
	if s.pauseFile == "" {
		return false
	}
	_, err := os.Stat(s.pauseFile)
	return err == nil
}
