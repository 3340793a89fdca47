package cli

import (
	"fmt"

	"github.com/davarch/debfactory/internal/domain"
	"github.com/davarch/debfactory/internal/infrastructure/config"
	"github.com/davarch/debfactory/internal/infrastructure/state_sqlite"
	"github.com/spf13/cobra"
)

var retryCmd = &cobra.Command{
	Use:   "retry <repo> <codename> <pocket>",
	Short: "Reset a failed build so the next pass retries it",
	Args:  cobra.MatchAll(cobra.ExactArgs(3)),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		ledger, err := state_sqlite.Open(cfg.StatePath(), state_sqlite.Options{
			Cooldown:    cfg.Build.Cooldown,
			MaxAttempts: cfg.Build.MaxAttempts,
		})
		if err != nil {
			return err
		}
		defer func() { _ = ledger.Close() }()

		target := domain.BuildTarget{Repo: args[0], Codename: args[1], Pocket: args[2]}
		ok, err := ledger.Override(cmd.Context(), target)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no failed record for %s/%s/%s", target.Repo, target.Codename, target.Pocket)
		}

		fmt.Printf("reset: %s/%s/%s\n", target.Repo, target.Codename, target.Pocket)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(retryCmd)
}
