// Package config loads the launcher configuration from defaults, an optional
// YAML or JSON file, .env files and the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"applet-tester/internal/domain/model"
	"applet-tester/pkg/log"
	"applet-tester/pkg/template"
	"applet-tester/pkg/yaml"
)

// Backend names the platform implementation
type Backend string

const (
	BackendDNAnexus Backend = "dnanexus"
	BackendDocker   Backend = "docker"
)

const (
	// DefaultConfigFile is read from the working directory when --config is not given.
	DefaultConfigFile = "applet-tester.yaml"
	// DefaultInstanceType is the instance the test job runs on.
	DefaultInstanceType = "mem1_ssd1_v2_x4"

	defaultBackend          = BackendDNAnexus
	defaultOutDir           = "test_out"
	defaultLogLevel         = "info"
	defaultLogFormat        = "text"
	defaultDockerImage      = "python:3.11-slim"
	defaultDockerProjectDir = ".applet-tester/project"
	defaultPollInitial      = Duration(5 * time.Second)
	defaultPollMax          = Duration(60 * time.Second)
	defaultTeardownTimeout  = Duration(2 * time.Minute)
	defaultArchivePrefix    = "applet-tester"

	// EnvPrefix prefixes the environment overrides.
	EnvPrefix = "APPLET_TESTER_"
)

// DefaultTestDepends are installed in every test job.
var DefaultTestDepends = []model.ExecDepend{
	{Name: "pytest", PackageManager: "pip"},
}

// PollConfig controls how often the job state is checked
type PollConfig struct {
	Initial Duration `json:"initial,omitempty"`
	Max     Duration `json:"max,omitempty"`
	// Timeout bounds the whole wait. Zero waits until the platform finishes the job.
	Timeout Duration `json:"timeout,omitempty"`
}

// DNAnexusConfig holds the remote platform settings
type DNAnexusConfig struct {
	APIServer string   `json:"api_server,omitempty"`
	Token     string   `json:"token,omitempty"`
	ProjectID string   `json:"project_id,omitempty"`
	Timeout   Duration `json:"timeout,omitempty"`
}

// DockerConfig holds the local backend settings
type DockerConfig struct {
	ProjectDir string `json:"project_dir,omitempty"`
	Image      string `json:"image,omitempty"`
	PytestCmd  string `json:"pytest_cmd,omitempty"`
}

// GitConfig holds the module staging settings
type GitConfig struct {
	Binary string `json:"binary,omitempty"`
	// WorkDir holds the per-run checkouts. Empty means the system temp dir.
	WorkDir string `json:"work_dir,omitempty"`
}

// ArchiveConfig holds the object storage settings for the log archive
type ArchiveConfig struct {
	Endpoint  string `json:"endpoint,omitempty"`
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
	Bucket    string `json:"bucket,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	Region    string `json:"region,omitempty"`
	UseSSL    bool   `json:"use_ssl,omitempty"`
}

// LedgerConfig holds the run ledger database settings
type LedgerConfig struct {
	URL          string `json:"url,omitempty"`
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

// Config holds the application configuration
type Config struct {
	Backend  Backend         `json:"backend,omitempty"`
	Features map[string]bool `json:"features,omitempty"`
	// LogLevel specifies the minimum log level to output (debug, info, warn, error).
	LogLevel string `json:"log_level,omitempty"`
	// LogFormat is text or json.
	LogFormat    string `json:"log_format,omitempty"`
	InstanceType string `json:"instance_type,omitempty"`
	// OutDir receives the pytest log of every run.
	OutDir string `json:"out_dir,omitempty"`
	// TestDepends replaces DefaultTestDepends when set.
	TestDepends     []model.ExecDepend `json:"test_depends,omitempty"`
	Poll            PollConfig         `json:"poll"`
	TeardownTimeout Duration           `json:"teardown_timeout,omitempty"`
	DNAnexus        DNAnexusConfig     `json:"dnanexus"`
	Docker          DockerConfig       `json:"docker"`
	Git             GitConfig          `json:"git"`
	Archive         ArchiveConfig      `json:"archive"`
	Ledger          LedgerConfig       `json:"ledger"`
}

// NewConfig returns a configuration with every default applied.
func NewConfig() *Config {
	cfg := &Config{}
	prepareConfig(cfg)
	return cfg
}

// prepareConfig applies defaults to empty fields
func prepareConfig(cfg *Config) {
	if cfg.Backend == "" {
		cfg.Backend = defaultBackend
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = defaultLogFormat
	}
	if cfg.InstanceType == "" {
		cfg.InstanceType = DefaultInstanceType
	}
	if cfg.OutDir == "" {
		cfg.OutDir = defaultOutDir
	}
	if cfg.TestDepends == nil {
		cfg.TestDepends = append([]model.ExecDepend(nil), DefaultTestDepends...)
	}
	if cfg.Poll.Initial <= 0 {
		cfg.Poll.Initial = defaultPollInitial
	}
	if cfg.Poll.Max <= 0 {
		cfg.Poll.Max = defaultPollMax
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = defaultTeardownTimeout
	}
	if cfg.Docker.Image == "" {
		cfg.Docker.Image = defaultDockerImage
	}
	if cfg.Docker.ProjectDir == "" {
		cfg.Docker.ProjectDir = defaultDockerProjectDir
	}
	if cfg.Git.Binary == "" {
		cfg.Git.Binary = "git"
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = defaultArchivePrefix
	}
	cfg.Features = validateAndMergeFeatures(cfg.Features)
}

// Load builds the configuration. .env files next to the config file and in
// the working directory are loaded first without overriding the
// environment. A missing config file is an error only when required is set.
// The result is not validated; callers apply their overrides and then call
// Validate.
func Load(path string, required bool) (*Config, error) {
	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
		log.Debug("Loaded config file", "path", path)
	case errors.Is(err, os.ErrNotExist) && !required:
		log.Debug("No config file, using defaults", "path", path)
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	prepareConfig(cfg)
	return cfg, nil
}

func loadDotEnv(paths ...string) {
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			log.Warn("Failed to load env file", "path", abs, "error", err)
		}
	}
}

// decode expands ${VAR} references and parses YAML or JSON
func decode(data []byte, cfg *Config) error {
	expanded, err := template.Substitute(string(data), nil)
	if err != nil {
		return err
	}
	return yaml.Decode([]byte(expanded), cfg)
}

// securityContext is the JSON document in DX_SECURITY_CONTEXT
type securityContext struct {
	TokenType string `json:"auth_token_type"`
	Token     string `json:"auth_token"`
}

// applyEnv fills platform credentials from the DX_* variables when the file
// leaves them empty, then applies APPLET_TESTER_* overrides.
func applyEnv(cfg *Config, lookup template.LookupFunc) error {
	if raw, ok := lookup("DX_SECURITY_CONTEXT"); ok && cfg.DNAnexus.Token == "" && raw != "" {
		var sc securityContext
		if err := json.Unmarshal([]byte(raw), &sc); err != nil {
			return fmt.Errorf("invalid DX_SECURITY_CONTEXT: %w", err)
		}
		cfg.DNAnexus.Token = sc.Token
	}
	if project, ok := lookup("DX_PROJECT_CONTEXT_ID"); ok && cfg.DNAnexus.ProjectID == "" {
		cfg.DNAnexus.ProjectID = project
	}
	if host, ok := lookup("DX_APISERVER_HOST"); ok && host != "" && cfg.DNAnexus.APIServer == "" {
		protocol := "https"
		if p, ok := lookup("DX_APISERVER_PROTOCOL"); ok && p != "" {
			protocol = p
		}
		server := protocol + "://" + host
		if port, ok := lookup("DX_APISERVER_PORT"); ok && port != "" && port != "443" && port != "80" {
			server += ":" + port
		}
		cfg.DNAnexus.APIServer = server
	}

	overrides := map[string]*string{
		"LOG_LEVEL":          &cfg.LogLevel,
		"LOG_FORMAT":         &cfg.LogFormat,
		"INSTANCE_TYPE":      &cfg.InstanceType,
		"OUT_DIR":            &cfg.OutDir,
		"DX_API_SERVER":      &cfg.DNAnexus.APIServer,
		"DX_TOKEN":           &cfg.DNAnexus.Token,
		"DX_PROJECT_ID":      &cfg.DNAnexus.ProjectID,
		"DOCKER_IMAGE":       &cfg.Docker.Image,
		"DOCKER_PROJECT_DIR": &cfg.Docker.ProjectDir,
		"GIT_BINARY":         &cfg.Git.Binary,
		"ARCHIVE_ENDPOINT":   &cfg.Archive.Endpoint,
		"ARCHIVE_ACCESS_KEY": &cfg.Archive.AccessKey,
		"ARCHIVE_SECRET_KEY": &cfg.Archive.SecretKey,
		"ARCHIVE_BUCKET":     &cfg.Archive.Bucket,
		"LEDGER_URL":         &cfg.Ledger.URL,
	}
	for key, dst := range overrides {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	if v, ok := lookup(EnvPrefix + "BACKEND"); ok {
		cfg.Backend = Backend(v)
	}
	if v, ok := lookup(EnvPrefix + "ARCHIVE_USE_SSL"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sARCHIVE_USE_SSL: %w", EnvPrefix, err)
		}
		cfg.Archive.UseSSL = b
	}
	return nil
}

// Validate checks the settings that do not depend on the chosen backend
// being reachable.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendDNAnexus, BackendDocker:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q (expected %s or %s)", c.Backend, BackendDNAnexus, BackendDocker))
	}
	if c.Poll.Max < c.Poll.Initial {
		errs = append(errs, fmt.Errorf("poll.max (%s) must not be below poll.initial (%s)", c.Poll.Max.Std(), c.Poll.Initial.Std()))
	}
	if c.Poll.Timeout < 0 {
		errs = append(errs, errors.New("poll.timeout must not be negative"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	for _, dep := range c.TestDepends {
		if dep.Name == "" {
			errs = append(errs, errors.New("test_depends entries need a name"))
		}
	}
	if c.IsFeatureEnabled(FeatureRunLedger) && c.Ledger.URL == "" {
		errs = append(errs, errors.New("ledger.url is required when the run_ledger feature is enabled"))
	}
	if c.IsFeatureEnabled(FeatureLogArchive) && (c.Archive.Endpoint == "" || c.Archive.Bucket == "") {
		errs = append(errs, errors.New("archive.endpoint and archive.bucket are required when the log_archive feature is enabled"))
	}
	return errors.Join(errs...)
}
