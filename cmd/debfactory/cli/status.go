package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/davarch/debfactory/internal/domain"
	"github.com/davarch/debfactory/internal/infrastructure/config"
	"github.com/davarch/debfactory/internal/infrastructure/state_sqlite"
	"github.com/spf13/cobra"
)

var (
	statusJSON    bool
	statusHistory bool
)

// statusRow is the JSON shape of one build record.
type statusRow struct {
	Repo        string    `json:"repo"`
	Codename    string    `json:"codename"`
	Pocket      string    `json:"pocket"`
	Commit      string    `json:"commit"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	Reason      string    `json:"reason,omitempty"`
	Superseded  bool      `json:"superseded,omitempty"`
	LastAttempt time.Time `json:"last_attempt,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show build records from the ledger",
	Args:  cobra.NoArgs,
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

		records, err := ledger.Records(cmd.Context(), statusHistory)
		if err != nil {
			return err
		}

		if statusJSON {
			rows := make([]statusRow, 0, len(records))
			for _, r := range records {
				rows = append(rows, statusRow{
					Repo:        r.Target.Repo,
					Codename:    r.Target.Codename,
					Pocket:      r.Target.Pocket,
					Commit:      r.CommitID,
					Status:      string(r.Status),
					Attempts:    r.Attempts,
					Reason:      r.Reason,
					Superseded:  r.Superseded,
					LastAttempt: r.LastAttempt,
					UpdatedAt:   r.UpdatedAt,
				})
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "REPO\tCODENAME\tPOCKET\tCOMMIT\tSTATUS\tATTEMPTS\tUPDATED\tREASON")
		for _, r := range records {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				r.Target.Repo, r.Target.Codename, r.Target.Pocket,
				shortCommit(r.CommitID), statusLabel(r),
				r.Attempts, r.UpdatedAt.Format(time.RFC3339), r.Reason)
		}
		_ = w.Flush()
		return nil
	},
}

func shortCommit(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func statusLabel(r domain.BuildRecord) string {
	if r.Superseded {
		return string(r.Status) + " (superseded)"
	}
	return string(r.Status)
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print JSON")
	statusCmd.Flags().BoolVar(&statusHistory, "history", false, "include superseded records")

	rootCmd.AddCommand(statusCmd)
}
