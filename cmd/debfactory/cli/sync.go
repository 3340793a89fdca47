package cli

import (
	"os/signal"
	"syscall"

	"github.com/davarch/debfactory/internal/infrastructure/config"
	"github.com/davarch/debfactory/internal/infrastructure/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one full pass: sync the organization, snapshot, dispatch builds",
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
		defer func() { _ = st.Close() }()

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		log.Info("sync",
			zap.String("version", version),
			zap.String("org", cfg.GitHub.Organization),
			zap.String("base", cfg.Dirs.Base),
			zap.Int("slots", cfg.Build.Slots),
		)

		return st.pipe.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
