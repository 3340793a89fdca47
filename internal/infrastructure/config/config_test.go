package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
github:
  base_url: https://github.example.com/api
  organization: pop-os
  timeout: 5s
  exclude_prefixes: ["wallpapers"]

dirs:
  base: /tmp/debfactory

codenames:
  - name: jammy
    pockets:
      - name: main
        branches: ["master", "main"]
      - name: proposed
        branches: ["staging*"]
  - name: noble
    pockets:
      - name: main
        branches: ["noble"]

pockets:
  - name: proposed
    branches: ["proposed_*"]

build:
  slots: 3
  cooldown: 10m
  max_attempts: 2
  trigger: ["sbuild-dispatch", "--quiet"]

poll:
  interval: 90s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_FromYAMLAndEnvOverride(t *testing.T) {
	path := writeConfig(t, sampleYAML)

	os.Setenv("GITHUB_TOKEN", "token-env")
	defer os.Unsetenv("GITHUB_TOKEN")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.GitHub.Token != "token-env" {
		t.Errorf("env override failed, got %q", c.GitHub.Token)
	}
	if c.GitHub.Organization != "pop-os" {
		t.Errorf("organization: got %q", c.GitHub.Organization)
	}
	if c.Build.Slots != 3 || c.Build.MaxAttempts != 2 {
		t.Errorf("build settings: %+v", c.Build)
	}
	if got := c.StatePath(); got != "/tmp/debfactory/state.db" {
		t.Errorf("state path: got %q", got)
	}
}

func TestLoad_CompilesRules(t *testing.T) {
	c, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rs, err := c.Rules()
	if err != nil {
		t.Fatalf("rules: %v", err)
	}

	refs := rs.Match("master")
	if len(refs) != 1 || refs[0].Codename != "jammy" || refs[0].Pocket != "main" {
		t.Errorf("master refs: %v", refs)
	}

	// Wildcard pocket binds in both codenames.
	if refs := rs.Match("proposed_x"); len(refs) != 2 {
		t.Errorf("wildcard refs: %v", refs)
	}
}

func TestLoad_MissingOrganizationFails(t *testing.T) {
	body := `
codenames:
  - name: jammy
    pockets:
      - name: main
        branches: ["master"]
build:
  trigger: ["true"]
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Error("expected error for missing organization")
	}
}

func TestLoad_InvalidPatternFailsFast(t *testing.T) {
	body := `
github:
  organization: pop-os
codenames:
  - name: jammy
    pockets:
      - name: main
        branches: ["[bad"]
build:
  trigger: ["true"]
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Error("expected error for invalid branch pattern")
	}
}
