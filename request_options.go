package cozerun

import (
	"errors"
	"fmt"
)

// requestConfig holds mutable state during request construction.
type requestConfig struct {
	parameters      map[string]any
	botID           string
	appID           string
	ext             map[string]string
	workflowVersion string
	connectorID     string
}

// RequestOption configures a [RunRequest] during construction.
// Options return an error if validation fails.
type RequestOption func(*requestConfig) error

// WithParameters merges params into the workflow input parameters.
//
// Parameter names must match the input names declared by the workflow.
// Later options win on conflicting keys.
//
// Example:
//
//	req, err := cozerun.NewRunRequest(id,
//	    cozerun.WithParameters(map[string]any{"city": "Beijing", "days": 3}),
//	)
func WithParameters(params map[string]any) RequestOption {
	return func(cfg *requestConfig) error {
		for k, v := range params {
			if k == "" {
				return errors.New("parameter name cannot be empty")
			}
			cfg.parameters[k] = v
		}
		return nil
	}
}

// WithParameter sets a single workflow input parameter.
//
// Returns an error if name is empty.
func WithParameter(name string, value any) RequestOption {
	return func(cfg *requestConfig) error {
		if name == "" {
			return errors.New("parameter name cannot be empty")
		}
		cfg.parameters[name] = value
		return nil
	}
}

// WithBotID associates the run with a bot. Needed by workflows that use
// bot-scoped variables or knowledge.
func WithBotID(id string) RequestOption {
	return func(cfg *requestConfig) error {
		cfg.botID = id
		return nil
	}
}

// WithAppID associates the run with the app that owns the workflow.
func WithAppID(id string) RequestOption {
	return func(cfg *requestConfig) error {
		cfg.appID = id
		return nil
	}
}

// WithExt adds extra fields such as latitude, longitude or user_id.
//
// Accepts variadic key-value pairs. The number of arguments must be even.
//
// Example:
//
//	cozerun.WithExt("latitude", "39.9042", "longitude", "116.4074")
//
// Returns an error if an odd number of arguments is provided.
func WithExt(keyValues ...string) RequestOption {
	return func(cfg *requestConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithExt requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			if keyValues[i] == "" {
				return fmt.Errorf("ext key at position %d cannot be empty", i)
			}
			cfg.ext[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithWorkflowVersion pins a workflow version. Only library workflows
// honour it.
func WithWorkflowVersion(version string) RequestOption {
	return func(cfg *requestConfig) error {
		cfg.workflowVersion = version
		return nil
	}
}

// WithConnectorID sets the channel id. The API defaults to 1024 (API channel).
func WithConnectorID(id string) RequestOption {
	return func(cfg *requestConfig) error {
		cfg.connectorID = id
		return nil
	}
}
