// Package config provides YAML configuration parsing for the cozerun command.
//
// Values may reference environment variables as ${VAR} or ${VAR:-default}.
// A .env file next to the configuration file is consulted for variables the
// process environment does not define.
//
// Example configuration:
//
//	api:
//	  token: ${COZE_API_TOKEN}
//	  timeout: 30s
//
//	workflow:
//	  id: "7428000000000000000"
//	  parameters:
//	    city: Beijing
//	    days: 3
//
//	poll:
//	  initial_interval: 2s
//	  max_interval: 30s
//	  max_attempts: 120
//
//	status: coze
//
//	output:
//	  dir: ./results
package config

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/cozerun"
)

// Values shipped in the sample configuration that must be replaced.
const (
	PlaceholderToken      = "your_access_token_here"
	PlaceholderWorkflowID = "your_workflow_id_here"
)

const (
	defaultBaseURL         = "https://api.coze.cn"
	defaultTimeout         = 30 * time.Second
	defaultSyncTimeout     = 10 * time.Minute
	defaultInitialInterval = 2 * time.Second
	defaultMaxInterval     = 30 * time.Second
	defaultMaxAttempts     = 120
	defaultMultiplier      = 1.5
	defaultErrorMultiplier = 2.0
	defaultOutputDir       = "."
)

// Config is the root configuration structure.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// API configures the connection to the workflow API.
	API APIConfig `yaml:"api"`

	// Workflow describes the workflow to run.
	Workflow WorkflowConfig `yaml:"workflow"`

	// Poll configures the async polling loop.
	Poll PollConfig `yaml:"poll"`

	// Status selects the status vocabulary.
	Status StatusConfig `yaml:"status"`

	// Output configures where artifacts are written.
	Output OutputConfig `yaml:"output"`

	// MetricsFile, when set, receives the run metrics in Prometheus text
	// format after each command.
	MetricsFile string `yaml:"metrics_file"`
}

// APIConfig configures the connection to the workflow API.
type APIConfig struct {
	// BaseURL is the API origin. Defaults to https://api.coze.cn.
	BaseURL string `yaml:"base_url"`

	// Token is the personal access token. Required.
	Token string `yaml:"token"`

	// RunPath overrides the run endpoint path.
	RunPath string `yaml:"run_path"`

	// HistoryPath overrides the run-history endpoint path. Supports the
	// {workflow_id} and {run_handle} placeholders.
	HistoryPath string `yaml:"history_path"`

	// Timeout bounds each request of an async run. Defaults to 30s.
	Timeout Duration `yaml:"timeout"`

	// SyncTimeout bounds a synchronous run. Defaults to 10m.
	SyncTimeout Duration `yaml:"sync_timeout"`
}

// WorkflowConfig describes the workflow to run.
type WorkflowConfig struct {
	// ID is the workflow id. Required.
	ID string `yaml:"id"`

	// Parameters are the workflow inputs. Values may be any YAML type.
	Parameters map[string]any `yaml:"parameters"`

	// BotID associates the run with a bot.
	BotID string `yaml:"bot_id"`

	// AppID associates the run with an app.
	AppID string `yaml:"app_id"`

	// Ext holds extra fields such as latitude or user_id.
	Ext map[string]string `yaml:"ext"`

	// Version pins a workflow version.
	Version string `yaml:"version"`

	// ConnectorID sets the channel id.
	ConnectorID string `yaml:"connector_id"`
}

// PollConfig configures the async polling loop.
type PollConfig struct {
	// InitialInterval is the first wait. Defaults to 2s.
	InitialInterval Duration `yaml:"initial_interval"`

	// MaxInterval caps every wait. Defaults to 30s.
	MaxInterval Duration `yaml:"max_interval"`

	// MaxAttempts is the query budget. Defaults to 120; 0 is allowed.
	MaxAttempts *int `yaml:"max_attempts"`

	// Multiplier grows the wait after a pending status. Defaults to 1.5.
	Multiplier float64 `yaml:"multiplier"`

	// ErrorMultiplier grows the wait after a failed query. Defaults to 2.
	ErrorMultiplier float64 `yaml:"error_multiplier"`
}

// StatusConfig selects the status vocabulary.
//
// It supports two formats in YAML:
//
// Preset name:
//
//	status: coze
//	status: generic
//
// Structured object, overriding fields of a preset:
//
//	status:
//	  preset: generic
//	  status_path: result.state
//	  success: [DONE]
//	  failure: [ERROR, CANCELLED]
type StatusConfig struct {
	// Preset is "coze" (default) or "generic".
	Preset string

	// StatusPath overrides the preset's status path.
	StatusPath string

	// HandlePath overrides the preset's handle path.
	HandlePath string

	// Success overrides the preset's success values.
	Success []string

	// Failure overrides the preset's failure values.
	Failure []string
}

// OutputConfig configures where artifacts are written.
type OutputConfig struct {
	// Dir is the artifact directory. Defaults to the current directory.
	Dir string `yaml:"dir"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler for StatusConfig.
func (s *StatusConfig) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&s.Preset)
	case yaml.MappingNode:
		// temporary struct to avoid infinite recursion
		var raw struct {
			Preset     string   `yaml:"preset"`
			StatusPath string   `yaml:"status_path"`
			HandlePath string   `yaml:"handle_path"`
			Success    []string `yaml:"success"`
			Failure    []string `yaml:"failure"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		*s = StatusConfig(raw)
		return nil
	default:
		return fmt.Errorf("status must be a preset name or object, got %v", node.Kind)
	}
}

// Vocabulary resolves the preset and applies overrides.
func (s StatusConfig) Vocabulary() (cozerun.Vocabulary, error) {
	v, err := cozerun.VocabularyByName(s.Preset)
	if err != nil {
		return cozerun.Vocabulary{}, err
	}

	custom := false
	if s.StatusPath != "" {
		v.StatusPath, custom = s.StatusPath, true
	}
	if s.HandlePath != "" {
		v.HandlePath, custom = s.HandlePath, true
	}
	if len(s.Success) > 0 {
		v.Success, custom = s.Success, true
	}
	if len(s.Failure) > 0 {
		v.Failure, custom = s.Failure, true
	}
	if custom {
		v.Name = "custom"
	}

	if err := v.Validate(); err != nil {
		return cozerun.Vocabulary{}, err
	}
	return v, nil
}

// Placeholders lists the fields still holding sample placeholder values.
func (c *Config) Placeholders() []string {
	var fields []string
	if c.API.Token == PlaceholderToken {
		fields = append(fields, "api.token")
	}
	if c.Workflow.ID == PlaceholderWorkflowID {
		fields = append(fields, "workflow.id")
	}
	return fields
}

// lookupFunc resolves an environment variable.
type lookupFunc func(name string) (string, bool)

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns using lookup.
func expandEnvVars(s string, lookup lookupFunc) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		varName := submatches[1]
		hasDefault := submatches[2] != ""

		value, exists := lookup(varName)
		if !exists {
			if hasDefault {
				return submatches[3]
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// expandValue expands strings nested anywhere inside a decoded YAML value.
func expandValue(v any, lookup lookupFunc) (any, error) {
	switch val := v.(type) {
	case string:
		return expandEnvVars(val, lookup)
	case map[string]any:
		for k, item := range val {
			expanded, err := expandValue(item, lookup)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			val[k] = expanded
		}
		return val, nil
	case []any:
		for i, item := range val {
			expanded, err := expandValue(item, lookup)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			val[i] = expanded
		}
		return val, nil
	default:
		return v, nil
	}
}

// Load reads and parses a YAML configuration file from the OS filesystem.
//
// A .env file in the same directory, if present, supplies variables missing
// from the process environment.
func Load(path string) (*Config, error) {
	return LoadFs(afero.NewOsFs(), path)
}

// LoadFs is [Load] on an arbitrary filesystem.
func LoadFs(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	dotenv, err := readDotEnv(fs, filepath.Join(filepath.Dir(path), ".env"))
	if err != nil {
		return nil, err
	}

	return parse(data, func(name string) (string, bool) {
		if v, ok := os.LookupEnv(name); ok {
			return v, true
		}
		v, ok := dotenv[name]
		return v, ok
	})
}

// readDotEnv parses path. A missing file yields no variables.
func readDotEnv(fs afero.Fs, path string) (map[string]string, error) {
	f, err := fs.Open(path)
	if errors.Is(err, iofs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	vars, err := godotenv.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return vars, nil
}

// Parse parses YAML configuration data, expanding variables from the
// process environment.
//
// Defaults are applied for every optional field; see the package example.
func Parse(data []byte) (*Config, error) {
	return parse(data, os.LookupEnv)
}

func parse(data []byte, lookup lookupFunc) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.expand(lookup); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = defaultBaseURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = Duration(defaultTimeout)
	}
	if c.API.SyncTimeout == 0 {
		c.API.SyncTimeout = Duration(defaultSyncTimeout)
	}
	if c.Poll.InitialInterval == 0 {
		c.Poll.InitialInterval = Duration(defaultInitialInterval)
	}
	if c.Poll.MaxInterval == 0 {
		c.Poll.MaxInterval = Duration(defaultMaxInterval)
	}
	if c.Poll.MaxAttempts == nil {
		n := defaultMaxAttempts
		c.Poll.MaxAttempts = &n
	}
	if c.Poll.Multiplier == 0 {
		c.Poll.Multiplier = defaultMultiplier
	}
	if c.Poll.ErrorMultiplier == 0 {
		c.Poll.ErrorMultiplier = defaultErrorMultiplier
	}
	if c.Output.Dir == "" {
		c.Output.Dir = defaultOutputDir
	}
}

// expand substitutes environment variables in every string value. It runs
// before defaults so a variable that expands to "" still gets the default.
func (c *Config) expand(lookup lookupFunc) error {
	fields := []struct {
		name  string
		value *string
	}{
		{"api.base_url", &c.API.BaseURL},
		{"api.token", &c.API.Token},
		{"api.run_path", &c.API.RunPath},
		{"api.history_path", &c.API.HistoryPath},
		{"workflow.id", &c.Workflow.ID},
		{"workflow.bot_id", &c.Workflow.BotID},
		{"workflow.app_id", &c.Workflow.AppID},
		{"workflow.version", &c.Workflow.Version},
		{"workflow.connector_id", &c.Workflow.ConnectorID},
		{"status.preset", &c.Status.Preset},
		{"status.status_path", &c.Status.StatusPath},
		{"status.handle_path", &c.Status.HandlePath},
		{"output.dir", &c.Output.Dir},
		{"metrics_file", &c.MetricsFile},
	}
	for _, f := range fields {
		expanded, err := expandEnvVars(*f.value, lookup)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.value = expanded
	}

	lists := []struct {
		name   string
		values []string
	}{
		{"status.success", c.Status.Success},
		{"status.failure", c.Status.Failure},
	}
	for _, l := range lists {
		for i, v := range l.values {
			expanded, err := expandEnvVars(v, lookup)
			if err != nil {
				return fmt.Errorf("%s[%d]: %w", l.name, i, err)
			}
			l.values[i] = expanded
		}
	}

	for k, v := range c.Workflow.Ext {
		expanded, err := expandEnvVars(v, lookup)
		if err != nil {
			return fmt.Errorf("workflow.ext[%s]: %w", k, err)
		}
		c.Workflow.Ext[k] = expanded
	}

	for k, v := range c.Workflow.Parameters {
		expanded, err := expandValue(v, lookup)
		if err != nil {
			return fmt.Errorf("workflow.parameters[%s]: %w", k, err)
		}
		c.Workflow.Parameters[k] = expanded
	}

	return nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.API.Token) == "" {
		return errors.New("api.token is required")
	}

	parsedURL, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("api.base_url: invalid url: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("api.base_url: scheme must be http or https, got %q", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return errors.New("api.base_url: host is required")
	}

	if c.API.Timeout.Duration() < 0 {
		return fmt.Errorf("api.timeout cannot be negative, got %s", c.API.Timeout.Duration())
	}
	if c.API.SyncTimeout.Duration() < 0 {
		return fmt.Errorf("api.sync_timeout cannot be negative, got %s", c.API.SyncTimeout.Duration())
	}

	if strings.TrimSpace(c.Workflow.ID) == "" {
		return errors.New("workflow.id is required")
	}
	for k := range c.Workflow.Parameters {
		if k == "" {
			return errors.New("workflow.parameters: parameter name cannot be empty")
		}
	}

	if c.Poll.InitialInterval.Duration() < 0 {
		return fmt.Errorf("poll.initial_interval cannot be negative, got %s", c.Poll.InitialInterval.Duration())
	}
	if c.Poll.MaxInterval.Duration() < c.Poll.InitialInterval.Duration() {
		return fmt.Errorf("poll.max_interval (%s) must be >= poll.initial_interval (%s)",
			c.Poll.MaxInterval.Duration(), c.Poll.InitialInterval.Duration())
	}
	if *c.Poll.MaxAttempts < 0 {
		return fmt.Errorf("poll.max_attempts cannot be negative, got %d", *c.Poll.MaxAttempts)
	}
	if c.Poll.Multiplier < 1 {
		return fmt.Errorf("poll.multiplier must be >= 1, got %g", c.Poll.Multiplier)
	}
	if c.Poll.ErrorMultiplier < 1 {
		return fmt.Errorf("poll.error_multiplier must be >= 1, got %g", c.Poll.ErrorMultiplier)
	}

	if _, err := c.Status.Vocabulary(); err != nil {
		return fmt.Errorf("status: %w", err)
	}

	return nil
}
