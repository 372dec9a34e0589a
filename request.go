package cozerun

import (
	"errors"
	"maps"
	"strings"
)

// RunRequest describes one workflow invocation.
//
// RunRequest is immutable after creation via [NewRunRequest]. Getters return
// copies of mutable data, so a request can be reused for several runs.
type RunRequest struct {
	workflowID      string
	parameters      map[string]any
	botID           string
	appID           string
	ext             map[string]string
	workflowVersion string
	connectorID     string
}

// WorkflowID returns the workflow to run.
func (r RunRequest) WorkflowID() string {
	return r.workflowID
}

// Parameters returns a shallow copy of the workflow input parameters.
// Returns nil if none are set.
func (r RunRequest) Parameters() map[string]any {
	return copyAnyMap(r.parameters)
}

// BotID returns the associated bot, or "".
func (r RunRequest) BotID() string {
	return r.botID
}

// AppID returns the associated app, or "".
func (r RunRequest) AppID() string {
	return r.appID
}

// Ext returns a copy of the extra fields. Returns nil if none are set.
func (r RunRequest) Ext() map[string]string {
	return copyMap(r.ext)
}

// WorkflowVersion returns the pinned workflow version, or "".
func (r RunRequest) WorkflowVersion() string {
	return r.workflowVersion
}

// ConnectorID returns the channel id, or "". The API defaults to 1024.
func (r RunRequest) ConnectorID() string {
	return r.connectorID
}

// Body builds the JSON request body.
//
// Optional fields are omitted when empty. is_async is set only when async is
// true; a synchronous request carries no is_async field.
func (r RunRequest) Body(async bool) map[string]any {
	body := map[string]any{
		"workflow_id": r.workflowID,
	}
	if async {
		body["is_async"] = true
	}
	if len(r.parameters) > 0 {
		body["parameters"] = copyAnyMap(r.parameters)
	}
	if r.botID != "" {
		body["bot_id"] = r.botID
	}
	if r.appID != "" {
		body["app_id"] = r.appID
	}
	if len(r.ext) > 0 {
		body["ext"] = copyMap(r.ext)
	}
	if r.workflowVersion != "" {
		body["workflow_version"] = r.workflowVersion
	}
	if r.connectorID != "" {
		body["connector_id"] = r.connectorID
	}
	return body
}

// NewRunRequest creates a [RunRequest] for workflowID.
//
// Returns an error if workflowID is empty or an option is invalid.
//
// Example:
//
//	req, err := cozerun.NewRunRequest("7428000000000000000",
//	    cozerun.WithParameter("input", "hello"),
//	    cozerun.WithBotID("7420000000000000000"),
//	)
func NewRunRequest(workflowID string, opts ...RequestOption) (RunRequest, error) {
	workflowID = strings.TrimSpace(workflowID)
	if workflowID == "" {
		return RunRequest{}, errors.New("workflow ID cannot be empty")
	}

	cfg := &requestConfig{
		parameters: make(map[string]any),
		ext:        make(map[string]string),
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return RunRequest{}, err
		}
	}

	return RunRequest{
		workflowID:      workflowID,
		parameters:      cfg.parameters,
		botID:           cfg.botID,
		appID:           cfg.appID,
		ext:             cfg.ext,
		workflowVersion: cfg.workflowVersion,
		connectorID:     cfg.connectorID,
	}, nil
}

// copyMap returns a shallow copy of the map.
func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

func copyAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}
