package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix namespaces environment overrides. Nested keys use a double
// underscore, e.g. MENTATON_REMOTE__TIMEOUT=10s.
const EnvPrefix = "MENTATON_"

const (
	DefaultVersionURL   = "https://raw.githubusercontent.com/mariano115/MentatonDB/main/data/version.json"
	DefaultQuestionsURL = "https://raw.githubusercontent.com/mariano115/MentatonDB/main/data/questions-v0.1.json"
)

// ErrNoRemote is returned when neither an HTTP manifest nor a git source is configured.
var ErrNoRemote = errors.New("either remote.version_url or remote.git_url must be set")

// Config holds application configuration loaded from a file, the
// environment and command-line flags, in increasing order of precedence.
type Config struct {
	DataDir    string `koanf:"data_dir" validate:"required"`
	DBName     string `koanf:"db_name" validate:"required"`
	LedgerName string `koanf:"ledger_name" validate:"required"`
	Remote     Remote `koanf:"remote"`
	Log        Log    `koanf:"log"`
	HTTP       HTTP   `koanf:"http"`
}

// Remote configures where question updates come from.
type Remote struct {
	VersionURL      string        `koanf:"version_url" validate:"omitempty,http_url"`
	QuestionsURL    string        `koanf:"questions_url"`
	Timeout         time.Duration `koanf:"timeout" validate:"min=1s,max=2m"`
	GitURL          string        `koanf:"git_url"`
	GitRef          string        `koanf:"git_ref"`
	GitManifestPath string        `koanf:"git_manifest_path"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// HTTP configures the JSON API.
type HTTP struct {
	Addr string `koanf:"addr" validate:"required,hostname_port"`
}

// DBPath is the question store file.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, c.DBName)
}

// LedgerPath is the version ledger file.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, c.LedgerName)
}

// ReposDir is where git sources are checked out.
func (c *Config) ReposDir() string {
	return filepath.Join(c.DataDir, "repos")
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"data-dir":          "data_dir",
	"db-name":           "db_name",
	"ledger-name":       "ledger_name",
	"version-url":       "remote.version_url",
	"questions-url":     "remote.questions_url",
	"timeout":           "remote.timeout",
	"git-url":           "remote.git_url",
	"git-ref":           "remote.git_ref",
	"git-manifest-path": "remote.git_manifest_path",
	"log-level":         "log.level",
	"log-format":        "log.format",
	"addr":              "http.addr",
}

// RegisterFlags adds the configuration flags, with their defaults, to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "Path to a YAML config file (env "+EnvPrefix+"CONFIG)")
	fs.String("data-dir", defaultDataDir(), "Directory holding the question store and version ledger")
	fs.String("db-name", "questions.db", "Question store file name")
	fs.String("ledger-name", "questions_db_version.yaml", "Version ledger file name")
	fs.String("version-url", DefaultVersionURL, "URL of the remote version manifest")
	fs.String("questions-url", DefaultQuestionsURL, "Dataset URL used when the manifest names none")
	fs.Duration("timeout", 8*time.Second, "Timeout for each remote fetch")
	fs.String("git-url", "", "Git repository to read the manifest and dataset from instead of HTTP")
	fs.String("git-ref", "", "Branch to follow in the git repository")
	fs.String("git-manifest-path", "data/version.json", "Manifest path inside the git repository")
	fs.String("log-level", "info", "Log level: debug, info, warn or error")
	fs.String("log-format", "text", "Log format: text or json")
	fs.String("addr", "127.0.0.1:8080", "Listen address for serve")
}

// Load reads configuration for an already parsed flag set.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	path, _ := fs.GetString("config")
	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		if key == "config" {
			return ""
		}
		return strings.ReplaceAll(key, "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	err = k.Load(posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("error loading flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Remote.VersionURL == "" && c.Remote.GitURL == "" {
		return fmt.Errorf("invalid config: %w", ErrNoRemote)
	}
	return nil
}

func defaultDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "mentaton")
	}
	return ".mentaton"
}
