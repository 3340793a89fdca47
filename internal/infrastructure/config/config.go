package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/davarch/debfactory/internal/domain"
	"gopkg.in/yaml.v3"
)

// Pocket is one named release channel with the branch patterns that
// feed it. Patterns are path.Match globs, matched against branch names.
type Pocket struct {
	Name     string   `yaml:"name"`
	Branches []string `yaml:"branches"`
}

// Codename is a release series and the ordered pockets it accepts.
type Codename struct {
	Name    string   `yaml:"name"`
	Pockets []Pocket `yaml:"pockets"`
}

type Config struct {
	GitHub struct {
		BaseURL         string        `yaml:"base_url"`
		Token           string        `yaml:"token"`
		Organization    string        `yaml:"organization"`
		Timeout         time.Duration `yaml:"timeout"`
		ExcludePrefixes []string      `yaml:"exclude_prefixes,omitempty"`
	} `yaml:"github"`

	Dirs struct {
		Base string `yaml:"base"`
	} `yaml:"dirs"`

	// Codenames are evaluated in order; within one codename the first
	// pocket whose pattern matches a branch wins.
	Codenames []Codename `yaml:"codenames"`

	// Pockets are wildcard rules that bind in every codename.
	Pockets []Pocket `yaml:"pockets,omitempty"`

	Build struct {
		Slots           int           `yaml:"slots"`
		SyncWorkers     int           `yaml:"sync_workers"`
		Cooldown        time.Duration `yaml:"cooldown"`
		MaxAttempts     int           `yaml:"max_attempts"`
		Trigger         []string      `yaml:"trigger"`
		UnavailableExit int           `yaml:"unavailable_exit"`
	} `yaml:"build"`

	Poll struct {
		Interval  time.Duration `yaml:"interval"`
		PauseFile string        `yaml:"pause_file,omitempty"`
	} `yaml:"poll"`
}

func Load(path string) (Config, error) {
	var c Config

	c.GitHub.BaseURL = "https://api.github.com"
	c.GitHub.Timeout = 30 * time.Second
	c.Dirs.Base = "_build"
	c.Build.Slots = 2
	c.Build.SyncWorkers = 4
	c.Build.Cooldown = 30 * time.Minute
	c.Build.MaxAttempts = 3
	c.Build.UnavailableExit = 75 // EX_TEMPFAIL
	c.Poll.Interval = 5 * time.Minute

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("GITHUB_BASE_URL"); v != "" {
		c.GitHub.BaseURL = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		c.GitHub.Token = v
	}
	if v := os.Getenv("GITHUB_ORG"); v != "" {
		c.GitHub.Organization = v
	}
	if v := os.Getenv("GITHUB_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.GitHub.Timeout = d
		}
	}
	if v := os.Getenv("DEBFACTORY_BASE_DIR"); v != "" {
		c.Dirs.Base = v
	}
	if v := os.Getenv("DEBFACTORY_SLOTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Build.Slots = n
		}
	}

	c.Dirs.Base = expandHome(c.Dirs.Base)
	c.GitHub.BaseURL = trimSlash(c.GitHub.BaseURL)

	if c.GitHub.Timeout <= 0 {
		c.GitHub.Timeout = 30 * time.Second
	}
	if c.Build.Slots <= 0 {
		c.Build.Slots = 2
	}
	if c.Build.SyncWorkers <= 0 {
		c.Build.SyncWorkers = 4
	}
	if c.Build.Cooldown <= 0 {
		c.Build.Cooldown = 30 * time.Minute
	}
	if c.Build.MaxAttempts <= 0 {
		c.Build.MaxAttempts = 3
	}
	if c.Poll.Interval <= 0 {
		c.Poll.Interval = 5 * time.Minute
	}

	if c.GitHub.Organization == "" {
		return c, errors.New("github.organization is required")
	}
	if len(c.Codenames) == 0 {
		return c, errors.New("no codenames configured")
	}
	if len(c.Build.Trigger) == 0 {
		return c, errors.New("build.trigger command is required")
	}

	// Compile the rules now so a bad pattern fails the run before any
	// work is dispatched.
	if _, err := c.Rules(); err != nil {
		return c, err
	}

	return c, nil
}

// Rules builds the pocket assignment rule set from the configured
// codenames and wildcard pockets.
func (c Config) Rules() (*domain.RuleSet, error) {
	var codenames []string
	var rules []domain.Rule
	for _, cn := range c.Codenames {
		codenames = append(codenames, cn.Name)
		for _, p := range cn.Pockets {
			rules = append(rules, domain.Rule{
				Codename: cn.Name,
				Pocket:   p.Name,
				Patterns: p.Branches,
			})
		}
	}
	for _, p := range c.Pockets {
		rules = append(rules, domain.Rule{Pocket: p.Name, Patterns: p.Branches})
	}
	return domain.NewRuleSet(codenames, rules)
}

// MirrorDir is where local repository mirrors live.
func (c Config) MirrorDir() string {
	return filepath.Join(c.Dirs.Base, "mirrors")
}

// ArchiveDir is the root of the content-addressed snapshot store.
func (c Config) ArchiveDir() string {
	return filepath.Join(c.Dirs.Base, "archives")
}

// StatePath is the SQLite ledger database.
func (c Config) StatePath() string {
	return filepath.Join(c.Dirs.Base, "state.db")
}

// SummaryPath is the JSON file updated with ledger counts after each
// pass.
func (c Config) SummaryPath() string {
	return filepath.Join(c.Dirs.Base, "summary.json")
}

func Save(path string, c Config) error {
	if path == "" {
		return errors.New("empty config path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	lockFile := path + ".lock"
	lf, err := os.OpenFile(lockFile, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = lf.Close() }()

	if runtime.GOOS != "windows" {
		if err := syscall.Flock(int(lf.Fd()), syscall.LOCK_EX); err != nil {
			return err
		}
		defer func() { _ = syscall.Flock(int(lf.Fd()), syscall.LOCK_UN) }()
	}

	b, err := yaml.Marshal(&c)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	defer func() { _ = f.Close() }()

	if _, err := f.Write(b); err != nil {
		return err
	}

	if err := f.Sync(); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

// Example returns a starter configuration for `debfactory init`.
func Example() Config {
	var c Config
	c.GitHub.BaseURL = "https://api.github.com"
	c.GitHub.Organization = "my-org"
	c.GitHub.Timeout = 30 * time.Second
	c.Dirs.Base = "_build"
	c.Codenames = []Codename{
		{
			Name: "jammy",
			Pockets: []Pocket{
				{Name: "main", Branches: []string{"master", "main"}},
				{Name: "proposed", Branches: []string{"staging*"}},
			},
		},
	}
	c.Build.Slots = 2
	c.Build.SyncWorkers = 4
	c.Build.Cooldown = 30 * time.Minute
	c.Build.MaxAttempts = 3
	c.Build.Trigger = []string{"sbuild-dispatch"}
	c.Build.UnavailableExit = 75
	c.Poll.Interval = 5 * time.Minute
	return c
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if h, _ := os.UserHomeDir(); h != "" {
			return h + p[1:]
		}
	}
	return p
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
