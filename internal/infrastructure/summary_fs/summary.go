package summary_fs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/davarch/debfactory/internal/domain"
)

// Writer publishes the latest pass summary as a small JSON file so
// dashboards and monitoring scrapers can read pipeline health without
// touching the ledger.
type Writer struct {
	path string
}

func New(path string) *Writer { return &Writer{path: path} }

func (w *Writer) Write(_ context.Context, s domain.PassSummary) error {
	if w.path == "" {
		return errors.New("summary path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(w.path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	type out struct {
		FinishedAt int64 `json:"finished_at"`
		Pending    int   `json:"pending"`
		InProgress int   `json:"in_progress"`
		Succeeded  int   `json:"succeeded"`
		Failed     int   `json:"failed"`
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")

	return enc.Encode(out{
		FinishedAt: s.FinishedAt.Unix(),
		Pending:    s.Pending,
		InProgress: s.InProgress,
		Succeeded:  s.Succeeded,
		Failed:     s.Failed,
	})
}
