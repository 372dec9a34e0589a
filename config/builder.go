package config

import (
	"sort"

	"github.com/jpalmerr/cozerun"
)

// BuildRequest converts the workflow section into an SDK RunRequest.
//
// overrides are merged over the configured parameters, so command-line
// values win.
func BuildRequest(cfg *Config, overrides map[string]any) (cozerun.RunRequest, error) {
	wf := cfg.Workflow

	opts := []cozerun.RequestOption{
		cozerun.WithParameters(wf.Parameters),
		cozerun.WithParameters(overrides),
	}

	if wf.BotID != "" {
		opts = append(opts, cozerun.WithBotID(wf.BotID))
	}
	if wf.AppID != "" {
		opts = append(opts, cozerun.WithAppID(wf.AppID))
	}
	if len(wf.Ext) > 0 {
		opts = append(opts, cozerun.WithExt(mapToKeyValuePairs(wf.Ext)...))
	}
	if wf.Version != "" {
		opts = append(opts, cozerun.WithWorkflowVersion(wf.Version))
	}
	if wf.ConnectorID != "" {
		opts = append(opts, cozerun.WithConnectorID(wf.ConnectorID))
	}

	return cozerun.NewRunRequest(wf.ID, opts...)
}

// BuildOptions converts the api, poll, status and output sections into SDK
// options for [cozerun.New].
//
// The caller adds process-level options such as the logger.
func BuildOptions(cfg *Config) ([]cozerun.Option, error) {
	vocab, err := cfg.Status.Vocabulary()
	if err != nil {
		return nil, err
	}

	maxAttempts := defaultMaxAttempts
	if cfg.Poll.MaxAttempts != nil {
		maxAttempts = *cfg.Poll.MaxAttempts
	}

	opts := []cozerun.Option{
		cozerun.WithToken(cfg.API.Token),
		cozerun.WithBaseURL(cfg.API.BaseURL),
		cozerun.WithRequestTimeout(cfg.API.Timeout.Duration()),
		cozerun.WithSyncTimeout(cfg.API.SyncTimeout.Duration()),
		cozerun.WithInitialInterval(cfg.Poll.InitialInterval.Duration()),
		cozerun.WithMaxInterval(cfg.Poll.MaxInterval.Duration()),
		cozerun.WithMaxAttempts(maxAttempts),
		cozerun.WithBackoffMultipliers(cfg.Poll.Multiplier, cfg.Poll.ErrorMultiplier),
		cozerun.WithVocabulary(vocab),
		cozerun.WithOutputDir(cfg.Output.Dir),
	}

	if cfg.API.RunPath != "" {
		opts = append(opts, cozerun.WithRunPath(cfg.API.RunPath))
	}
	if cfg.API.HistoryPath != "" {
		opts = append(opts, cozerun.WithHistoryPath(cfg.API.HistoryPath))
	}

	return opts, nil
}

// mapToKeyValuePairs converts a map to a sorted slice of key-value pairs.
func mapToKeyValuePairs(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}
