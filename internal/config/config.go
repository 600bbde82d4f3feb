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

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	defaultBackend      = "cpu"
	defaultResultsDir   = "."
	defaultMaxDuration  = 60 * time.Second
	defaultCallTimeout  = time.Second
	defaultCodeTimeout  = 5 * time.Second
	defaultLinkTimeout  = 2 * time.Minute
	defaultLogLevel     = "info"
	envBackend          = "GOPROF_BACKEND"
	envResultsDir       = "GOPROF_RESULTS_DIR"
	envMaxDuration      = "GOPROF_MAX_DURATION"
	envStartWait        = "GOPROF_START_WAIT"
	envCallTimeout      = "GOPROF_CALL_TIMEOUT"
	envCodeTimeout      = "GOPROF_CODE_TIMEOUT"
	envLinkTimeout      = "GOPROF_LINK_TIMEOUT"
	envLabelTransition  = "GOPROF_LABEL_TRANSITION"
	envManagerBlocking  = "GOPROF_MANAGER_BLOCKING"
	envDetachOnLinkLoss = "GOPROF_DETACH_ON_LINK_LOSS"
	envLogLevel         = "GOPROF_LOG_LEVEL"
)

// Config aggregates the agent defaults. Attach requests may override the
// session-level fields.
type Config struct {
	Backend    string
	Sort       string
	Module     string
	Function   string
	ResultsDir string

	// MaxDuration bounds one profiling run; zero disables the timer.
	MaxDuration time.Duration
	// StartWait bounds how long armed code profiling waits for a caller.
	StartWait time.Duration
	// CallTimeout bounds one coordinator round trip from an instrumentation point.
	CallTimeout time.Duration
	// CodeTimeout bounds a full code-profiling start or stop round trip.
	CodeTimeout time.Duration
	// LinkTimeout is the keepalive window of the controller link; zero disables it.
	LinkTimeout time.Duration

	LabelTransition  bool
	SetOnSpawn       bool
	ManagerBlocking  bool
	DetachOnLinkLoss bool

	LogLevel string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Backend:          defaultBackend,
		Module:           "*",
		Function:         "*",
		ResultsDir:       defaultResultsDir,
		MaxDuration:      defaultMaxDuration,
		CallTimeout:      defaultCallTimeout,
		CodeTimeout:      defaultCodeTimeout,
		LinkTimeout:      defaultLinkTimeout,
		SetOnSpawn:       true,
		DetachOnLinkLoss: true,
		LogLevel:         defaultLogLevel,
	}
}

// Load builds a Config from an optional JSON or YAML file plus environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envBackend); v != "" {
		cfg.Backend = strings.TrimSpace(v)
	}
	if v := os.Getenv(envResultsDir); v != "" {
		cfg.ResultsDir = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = v
	}

	durations := []struct {
		env    string
		target *time.Duration
		zeroOK bool
	}{
		{envMaxDuration, &cfg.MaxDuration, true},
		{envStartWait, &cfg.StartWait, true},
		{envCallTimeout, &cfg.CallTimeout, false},
		{envCodeTimeout, &cfg.CodeTimeout, false},
		{envLinkTimeout, &cfg.LinkTimeout, true},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		dur, err := time.ParseDuration(v)
		if err != nil {
			log.Warnf("invalid %s value %q: %v", d.env, v, err)
			continue
		}
		if dur < 0 || (dur == 0 && !d.zeroOK) {
			log.Warnf("invalid %s value %q: out of range", d.env, v)
			continue
		}
		*d.target = dur
	}

	flags := []struct {
		env    string
		target *bool
	}{
		{envLabelTransition, &cfg.LabelTransition},
		{envManagerBlocking, &cfg.ManagerBlocking},
		{envDetachOnLinkLoss, &cfg.DetachOnLinkLoss},
	}
	for _, f := range flags {
		v := os.Getenv(f.env)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Warnf("invalid %s value %q: %v", f.env, v, err)
			continue
		}
		*f.target = b
	}
}

type fileConfig struct {
	Backend          string `json:"backend" yaml:"backend"`
	Sort             string `json:"sort" yaml:"sort"`
	Module           string `json:"module" yaml:"module"`
	Function         string `json:"function" yaml:"function"`
	ResultsDir       string `json:"results_dir" yaml:"results_dir"`
	MaxDuration      string `json:"max_duration" yaml:"max_duration"`
	StartWait        string `json:"start_wait" yaml:"start_wait"`
	CallTimeout      string `json:"call_timeout" yaml:"call_timeout"`
	CodeTimeout      string `json:"code_timeout" yaml:"code_timeout"`
	LinkTimeout      string `json:"link_timeout" yaml:"link_timeout"`
	LabelTransition  *bool  `json:"label_transition" yaml:"label_transition"`
	SetOnSpawn       *bool  `json:"set_on_spawn" yaml:"set_on_spawn"`
	ManagerBlocking  *bool  `json:"manager_blocking" yaml:"manager_blocking"`
	DetachOnLinkLoss *bool  `json:"detach_on_link_loss" yaml:"detach_on_link_loss"`
	LogLevel         string `json:"log_level" yaml:"log_level"`
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var raw fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return err
	}

	setString(&cfg.Backend, raw.Backend)
	setString(&cfg.Sort, raw.Sort)
	setString(&cfg.Module, raw.Module)
	setString(&cfg.Function, raw.Function)
	setString(&cfg.ResultsDir, raw.ResultsDir)
	setString(&cfg.LogLevel, raw.LogLevel)

	durations := []struct {
		name   string
		raw    string
		target *time.Duration
		zeroOK bool
	}{
		{"max_duration", raw.MaxDuration, &cfg.MaxDuration, true},
		{"start_wait", raw.StartWait, &cfg.StartWait, true},
		{"call_timeout", raw.CallTimeout, &cfg.CallTimeout, false},
		{"code_timeout", raw.CodeTimeout, &cfg.CodeTimeout, false},
		{"link_timeout", raw.LinkTimeout, &cfg.LinkTimeout, true},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		dur, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.name, err)
		}
		if dur < 0 || (dur == 0 && !d.zeroOK) {
			return errors.New(d.name + " must be > 0")
		}
		*d.target = dur
	}

	setBool(&cfg.LabelTransition, raw.LabelTransition)
	setBool(&cfg.SetOnSpawn, raw.SetOnSpawn)
	setBool(&cfg.ManagerBlocking, raw.ManagerBlocking)
	setBool(&cfg.DetachOnLinkLoss, raw.DetachOnLinkLoss)
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// ConfigureLogging applies the configured level to the global logger.
func ConfigureLogging(cfg Config) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warnf("invalid log level %q, keeping %s", cfg.LogLevel, log.GetLevel())
		return
	}
	log.SetLevel(level)
}
