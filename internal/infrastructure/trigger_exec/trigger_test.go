package trigger_exec

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/davarch/debfactory/internal/domain"
)

var testTarget = domain.BuildTarget{Repo: "shell", Codename: "jammy", Pocket: "main"}
var testSnap = domain.Snapshot{CommitID: "abc123", Location: "/tmp/abc123.tar.zst", Buildable: true}

func script(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts")
	}
	path := filepath.Join(t.TempDir(), "trigger.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTrigger_Success(t *testing.T) {
	path := script(t, `exit 0`)
	tr := New([]string{path}, 75)

	res, err := tr.Trigger(context.Background(), testTarget, testSnap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != domain.OutcomeSucceeded {
		t.Errorf("outcome: %v", res)
	}
}

func TestTrigger_PassesCoordinates(t *testing.T) {
	out := filepath.Join(t.TempDir(), "args")
	path := script(t, `echo "$@" > `+out)
	tr := New([]string{path, "--quiet"}, 75)

	if _, err := tr.Trigger(context.Background(), testTarget, testSnap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	want := "--quiet shell jammy main abc123 /tmp/abc123.tar.zst\n"
	if string(got) != want {
		t.Errorf("args: %q, want %q", got, want)
	}
}

func TestTrigger_FailureCapturesStderr(t *testing.T) {
	path := script(t, `echo "dpkg-buildpackage: error" >&2; exit 2`)
	tr := New([]string{path}, 75)

	res, err := tr.Trigger(context.Background(), testTarget, testSnap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != domain.OutcomeFailed {
		t.Fatalf("outcome: %v", res)
	}
	if res.Reason == "" || res.Reason == "trigger exited 2" {
		t.Errorf("reason should carry stderr: %q", res.Reason)
	}
}

func TestTrigger_UnavailableExitCode(t *testing.T) {
	path := script(t, `exit 75`)
	tr := New([]string{path}, 75)

	res, err := tr.Trigger(context.Background(), testTarget, testSnap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != domain.OutcomeUnavailable {
		t.Errorf("outcome: %v", res)
	}
}

func TestTrigger_InterruptedBuildIsNotAFailure(t *testing.T) {
	path := script(t, `exec sleep 10`)
	tr := New([]string{path}, 75)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	res, err := tr.Trigger(ctx, testTarget, testSnap)
	if err == nil {
		t.Fatalf("expected a context error, got result %v", res)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error should carry the cancellation: %v", err)
	}
	if res.Outcome == domain.OutcomeFailed {
		t.Error("an interrupted build must never be reported as a build failure")
	}
}

func TestTrigger_MissingBinaryIsUnavailable(t *testing.T) {
	tr := New([]string{"/nonexistent/builder"}, 75)

	res, err := tr.Trigger(context.Background(), testTarget, testSnap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != domain.OutcomeUnavailable {
		t.Errorf("outcome: %v", res)
	}
}
