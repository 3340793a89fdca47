package cli

import (
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/davarch/debfactory/internal/application"
	"github.com/davarch/debfactory/internal/infrastructure/config"
	"github.com/davarch/debfactory/internal/infrastructure/logging"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline periodically",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.New()
		defer func() { _ = log.Sync() }()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		st, err := buildStack(log, cfg)
		if err != nil {
			return err
		}

		sched := application.NewScheduler(log, st.pipe, cfg.Poll.Interval, cfg.Poll.PauseFile)

		swapper := &stackSwapper{log: log, sched: sched, cur: st, grace: cfg.Poll.Interval}
		defer swapper.CloseCurrent()
		watchAndReload(cfgPath, log, swapper)

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		log.Info("start",
			zap.String("version", version),
			zap.String("org", cfg.GitHub.Organization),
			zap.String("base", cfg.Dirs.Base),
			zap.Duration("every", cfg.Poll.Interval),
			zap.String("pause_file", cfg.Poll.PauseFile),
		)
		sched.Run(ctx)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// stackSwapper replaces the scheduler's pipeline on config reload. The
// previous ledger is closed after a grace period so a pass that is
// still running against it can finish first.
type stackSwapper struct {
	log   *zap.Logger
	sched *application.Scheduler
	grace time.Duration

	mu  sync.Mutex
	cur *stack
}

func (s *stackSwapper) Swap(next *stack) {
	s.mu.Lock()
	old := s.cur
	s.cur = next
	s.mu.Unlock()

	s.sched.UpdatePipeline(next.pipe)

	if old != nil {
		time.AfterFunc(s.grace, func() {
			if err := old.Close(); err != nil {
				s.log.Warn("closing previous ledger failed", zap.Error(err))
			}
		})
	}
}

func (s *stackSwapper) CloseCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		_ = s.cur.Close()
		s.cur = nil
	}
}

func watchAndReload(cfgPath string, log *zap.Logger, swapper *stackSwapper) {
	if cfgPath == "" {
		return
	}

	dir := filepath.Dir(cfgPath)
	base := filepath.Base(cfgPath)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("fsnotify init failed", zap.Error(err))
		return
	}

	go func() {
		defer func() { _ = w.Close() }()

		var timer *time.Timer
		fire := func() {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				log.Warn("config reload failed", zap.Error(err))
				return
			}
			next, err := buildStack(log, cfg)
			if err != nil {
				log.Warn("config reload: rebuilding pipeline failed", zap.Error(err))
				return
			}
			swapper.Swap(next)
		}

		// Editors produce bursts of events; debounce before reloading.
		startTimer := func() {
			if timer == nil {
				timer = time.AfterFunc(300*time.Millisecond, fire)
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(300 * time.Millisecond)
		}

		if err := w.Add(dir); err != nil {
			log.Warn("fsnotify add dir failed", zap.String("dir", dir), zap.Error(err))
			return
		}

		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					startTimer()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("fsnotify error", zap.Error(err))
			}
		}
	}()
}
