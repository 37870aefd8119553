package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/llm-bench/llm-bench/pkg/models"
)

// EnvPrefix prefixes environment overrides, e.g. LLMBENCH_GLOBAL_BASE_URL
const EnvPrefix = "LLMBENCH"

// ErrRunNotFound is returned when --only names a run that is not configured
var ErrRunNotFound = errors.New("no run with that name")

// Config is the run-matrix file plus ambient settings
type Config struct {
	Global   GlobalConfig   `mapstructure:"global"`
	Runs     []RunEntry     `mapstructure:"runs" validate:"required,min=1,dive"`
	Database DatabaseConfig `mapstructure:"database"`
	Status   StatusConfig   `mapstructure:"status"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// GlobalConfig holds settings shared by every run
type GlobalConfig struct {
	BaseURL           string        `mapstructure:"base_url" validate:"required,url"`
	PromptFile        string        `mapstructure:"prompt_file" validate:"required"`
	OutputRoot        string        `mapstructure:"output_root" validate:"required"`
	TimeoutS          int           `mapstructure:"timeout_s" validate:"gt=0"`
	ReadyTimeoutS     int           `mapstructure:"ready_timeout_s" validate:"gt=0"`
	SamplesPerPrompt  int           `mapstructure:"samples_per_prompt" validate:"gte=1"`
	LlamaServerBin    string        `mapstructure:"llama_server_bin"`
	ModelPath         string        `mapstructure:"model_path"`
	ServerCommand     []string      `mapstructure:"server_command" validate:"min=1,dive,required"`
	Workdir           string        `mapstructure:"workdir"`
	SampleInterval    time.Duration `mapstructure:"sample_interval" validate:"gt=0"`
	RequestInterval   time.Duration `mapstructure:"request_interval" validate:"gte=0"`
	ContinueOnFailure bool          `mapstructure:"continue_on_failure"`
	SystemPrompt      string        `mapstructure:"system_prompt"`
	ModelName         string        `mapstructure:"model_name"`
}

// RunEntry is one run as written in the matrix file. Empty fields fall back
// to the global values.
type RunEntry struct {
	Name           string            `mapstructure:"name" validate:"required,excludesall=/"`
	LlamaServerBin string            `mapstructure:"llama_server_bin"`
	ModelPath      string            `mapstructure:"model_path"`
	Env            map[string]string `mapstructure:"env"`
	Temperature    *float64          `mapstructure:"temperature" validate:"omitempty,gte=0"`
	TopP           *float64          `mapstructure:"top_p" validate:"omitempty,gte=0,lte=1"`
}

// DatabaseConfig holds the run history database location
type DatabaseConfig struct {
	Path string `mapstructure:"path"` // defaults to {output_root}/history.db
}

// StatusConfig holds the status API listener
type StatusConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the status API
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// Load reads the matrix file at configPath and applies environment
// overrides. Relative paths are resolved against the workdir.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Read from environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind specific environment variables
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Global defaults
	v.SetDefault("global.output_root", "results")
	v.SetDefault("global.timeout_s", 90)
	v.SetDefault("global.ready_timeout_s", 90)
	v.SetDefault("global.samples_per_prompt", 1)
	v.SetDefault("global.llama_server_bin", "")
	v.SetDefault("global.model_path", "")
	v.SetDefault("global.server_command", []string{"bash", "scripts/start_llama_server.sh"})
	v.SetDefault("global.workdir", ".")
	v.SetDefault("global.sample_interval", 500*time.Millisecond)
	v.SetDefault("global.request_interval", time.Duration(0))
	v.SetDefault("global.continue_on_failure", false)
	v.SetDefault("global.system_prompt", "You are a precise endpoint security assistant.")
	v.SetDefault("global.model_name", "local-model")

	// Database defaults
	v.SetDefault("database.path", "")

	// Status API defaults
	v.SetDefault("status.addr", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func bindEnvVars(v *viper.Viper) {
	// Helper to bind and log errors (BindEnv errors are non-fatal but should be logged)
	bindEnv := func(key string, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			slog.Warn("failed to bind environment variable",
				slog.String("key", key),
				slog.String("env_var", envVar),
				slog.String("error", err.Error()))
		}
	}

	bindEnv("database.path", "LLMBENCH_DB_PATH")
	bindEnv("status.addr", "LLMBENCH_STATUS_ADDR")

	// Logging
	bindEnv("logging.level", "LOG_LEVEL")
	bindEnv("logging.format", "LOG_FORMAT")
}

// resolvePaths expands $VAR references and anchors relative paths at the workdir.
// The server binary and model path are left raw; they are expanded once when
// the server environment is composed.
func (c *Config) resolvePaths() error {
	g := &c.Global

	workdir, err := filepath.Abs(ExpandEnv(g.Workdir))
	if err != nil {
		return fmt.Errorf("failed to resolve workdir: %w", err)
	}
	g.Workdir = workdir

	g.BaseURL = ExpandEnv(g.BaseURL)
	if g.PromptFile != "" {
		g.PromptFile = anchor(workdir, ExpandEnv(g.PromptFile))
	}
	if g.OutputRoot != "" {
		g.OutputRoot = anchor(workdir, ExpandEnv(g.OutputRoot))
	}

	if c.Database.Path == "" && g.OutputRoot != "" {
		c.Database.Path = filepath.Join(g.OutputRoot, "history.db")
	} else if c.Database.Path != "" {
		c.Database.Path = anchor(workdir, ExpandEnv(c.Database.Path))
	}
	return nil
}

func anchor(dir, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(dir, path)
}

// Validate checks field constraints and that run names are unique
func (c *Config) Validate() error {
	var problems []string
	if err := validate.Struct(c); err != nil {
		problems = append(problems, describe(err)...)
	}

	seen := make(map[string]int, len(c.Runs))
	for i, r := range c.Runs {
		if r.Name == "" {
			continue
		}
		if r.Name == "." || r.Name == ".." {
			problems = append(problems, fmt.Sprintf("runs[%d].name %q is not a valid directory name", i, r.Name))
			continue
		}
		if first, ok := seen[r.Name]; ok {
			problems = append(problems, fmt.Sprintf("runs[%d].name %q duplicates runs[%d]", i, r.Name, first))
			continue
		}
		seen[r.Name] = i
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ResolveRuns merges global defaults into every run entry, in file order.
// When only is non-empty just that run is returned.
func (c *Config) ResolveRuns(only string) ([]models.RunConfig, error) {
	entries := c.Runs
	if only != "" {
		entries = nil
		for _, r := range c.Runs {
			if r.Name == only {
				entries = append(entries, r)
			}
		}
		if len(entries) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrRunNotFound, only)
		}
	}

	runs := make([]models.RunConfig, 0, len(entries))
	var problems []string
	for i, r := range entries {
		rc := models.RunConfig{
			Name:        r.Name,
			ServerBin:   firstNonEmpty(r.LlamaServerBin, c.Global.LlamaServerBin),
			ModelPath:   firstNonEmpty(r.ModelPath, c.Global.ModelPath),
			Env:         make(map[string]string, len(r.Env)),
			Temperature: sampling(r.Temperature, r.Env, "TEMPERATURE", 0.0),
			TopP:        sampling(r.TopP, r.Env, "TOP_P", 1.0),
		}
		for k, v := range r.Env {
			rc.Env[strings.ToUpper(k)] = v
		}

		if err := validate.Struct(rc); err != nil {
			for _, p := range describe(err) {
				problems = append(problems, fmt.Sprintf("runs[%d] (%s): %s", i, r.Name, p))
			}
			continue
		}
		runs = append(runs, rc)
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return runs, nil
}

// BenchmarkOptions returns the runner settings for a resolved run
func (c *Config) BenchmarkOptions(run models.RunConfig) models.BenchmarkOptions {
	return models.BenchmarkOptions{
		BaseURL:          c.Global.BaseURL,
		ModelName:        c.Global.ModelName,
		SystemPrompt:     c.Global.SystemPrompt,
		SamplesPerPrompt: c.Global.SamplesPerPrompt,
		Temperature:      run.Temperature,
		TopP:             run.TopP,
		RequestTimeout:   time.Duration(c.Global.TimeoutS) * time.Second,
		RequestInterval:  c.Global.RequestInterval,
	}
}

// ReadyTimeout is the deadline for the server to answer the models endpoint
func (c *Config) ReadyTimeout() time.Duration {
	return time.Duration(c.Global.ReadyTimeoutS) * time.Second
}

// sampling picks an explicit value, then the run env entry, then def.
// Env keys are matched case-insensitively.
func sampling(explicit *float64, env map[string]string, key string, def float64) float64 {
	if explicit != nil {
		return *explicit
	}
	for k, v := range env {
		if strings.EqualFold(k, key) {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f
			}
		}
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
