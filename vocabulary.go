package cozerun

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

// Vocabulary maps a remote API's status strings onto [RunState] values and
// locates the run handle in a start response.
//
// Paths use gjson syntax, so array elements are addressed by index:
// "data.0.execute_status" reads the status of the first history entry.
//
// Classification rules:
//   - value listed in Success: [StateSucceeded]
//   - value listed in Failure: [StateFailed]
//   - any other non-empty value: [StatePending]
//   - missing, empty, or body not JSON: [StateUnknown]
//
// Matching is exact and case-sensitive.
type Vocabulary struct {
	// Name identifies the vocabulary in logs and config.
	Name string

	// StatusPath locates the status string in a status response.
	StatusPath string

	// HandlePath locates the run handle in a start response.
	HandlePath string

	// Success lists terminal success values.
	Success []string

	// Failure lists terminal failure values.
	Failure []string
}

// CozeVocabulary matches the Coze run-history API: the status sits in
// data[0].execute_status as Success, Fail or Running, and the start response
// carries execute_id.
var CozeVocabulary = Vocabulary{
	Name:       "coze",
	StatusPath: "data.0.execute_status",
	HandlePath: "execute_id",
	Success:    []string{"Success"},
	Failure:    []string{"Fail"},
}

// GenericVocabulary matches APIs reporting a top-level status of completed,
// failed, pending or running, with the handle in run_id.
var GenericVocabulary = Vocabulary{
	Name:       "generic",
	StatusPath: "status",
	HandlePath: "run_id",
	Success:    []string{"completed"},
	Failure:    []string{"failed"},
}

// VocabularyByName returns a built-in vocabulary: "coze" or "generic".
func VocabularyByName(name string) (Vocabulary, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "coze":
		return CozeVocabulary, nil
	case "generic":
		return GenericVocabulary, nil
	default:
		return Vocabulary{}, fmt.Errorf("unknown status vocabulary %q (expected 'coze' or 'generic')", name)
	}
}

// Validate reports whether the vocabulary can classify anything.
func (v Vocabulary) Validate() error {
	if v.StatusPath == "" {
		return errors.New("status path cannot be empty")
	}
	if v.HandlePath == "" {
		return errors.New("handle path cannot be empty")
	}
	if len(v.Success) == 0 && len(v.Failure) == 0 {
		return errors.New("at least one success or failure value is required")
	}
	for _, s := range v.Success {
		if slices.Contains(v.Failure, s) {
			return fmt.Errorf("status %q is listed as both success and failure", s)
		}
	}
	return nil
}

// Status returns the raw status string in body, or "" if there is none.
func (v Vocabulary) Status(body []byte) string {
	return lookup(body, v.StatusPath)
}

// Handle returns the run handle in a start response body, or "" if there is none.
func (v Vocabulary) Handle(body []byte) string {
	return lookup(body, v.HandlePath)
}

// Classify maps a status response body to a [RunState].
func (v Vocabulary) Classify(body []byte) RunState {
	status := v.Status(body)
	switch {
	case status == "":
		return StateUnknown
	case slices.Contains(v.Success, status):
		return StateSucceeded
	case slices.Contains(v.Failure, status):
		return StateFailed
	default:
		return StatePending
	}
}

// lookup reads a scalar at path. Objects, arrays and nulls count as missing.
func lookup(body []byte, path string) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}

	res := gjson.GetBytes(body, path)
	switch res.Type {
	case gjson.String, gjson.Number, gjson.True, gjson.False:
		return res.String()
	default:
		return ""
	}
}
