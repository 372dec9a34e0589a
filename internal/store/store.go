package store

import (
	"encoding/json"
	"time"
)

// Artifact is one execution to persist.
type Artifact struct {
	// Mode names the execution kind ("sync" or "async") and prefixes the file name.
	Mode string

	// RunHandle is the remote run identifier, if one was obtained.
	RunHandle string

	// Request is the request body that was sent.
	Request any

	// Response is the raw response payload. Non-JSON bytes are stored as a
	// JSON string; nil is stored as null.
	Response []byte

	// CreatedAt timestamps the file name. Zero means now.
	CreatedAt time.Time
}

// Document is the on-disk layout of an artifact.
type Document struct {
	// Request is every input of the run, as sent.
	Request any `json:"request"`

	// Response is everything the remote system returned.
	Response json.RawMessage `json:"response"`
}

// Store defines the interface for persisting artifacts.
type Store interface {
	// Save writes the artifact and returns where it was written.
	Save(a Artifact) (string, error)
}
