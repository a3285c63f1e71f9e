package dispatch

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const (
	// StatusTimeout is the synthetic status reported when the remote did not
	// answer within the timeout.
	StatusTimeout = http.StatusRequestTimeout
	// StatusTransportFailure is the synthetic status reported for connection,
	// DNS, encoding and decoding failures.
	StatusTransportFailure = 520
)

// RawKey wraps non-JSON response bodies inside Result.Data.
const RawKey = "raw"

// ErrorKey carries the failure description of synthetic results.
const ErrorKey = "error"

// Result is the normalized outcome of one dispatch. StatusCode is either the
// remote status or one of the synthetic codes; Data is the decoded JSON body,
// a {"raw": text} wrapper, or an {"error": message} payload. Synthetic is
// set only on results produced locally, so a remote 408 or 520 stays remote.
type Result struct {
	StatusCode int  `json:"status"`
	Data       any  `json:"data"`
	Synthetic  bool `json:"synthetic,omitempty"`
}

// Log returns the human-readable lines the control plane attached under
// "log", in order. Non-string entries are formatted with %v.
func (r Result) Log() []string {
	obj, ok := r.Data.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := obj["log"].([]any)
	if !ok {
		return nil
	}
	lines := make([]string, 0, len(raw))
	for _, entry := range raw {
		if s, ok := entry.(string); ok {
			lines = append(lines, s)
			continue
		}
		lines = append(lines, fmt.Sprintf("%v", entry))
	}
	return lines
}

// String renders Data compactly for operator display.
func (r Result) String() string {
	if r.Data == nil {
		return ""
	}
	if obj, ok := r.Data.(map[string]any); ok && len(obj) == 1 {
		if raw, ok := obj[RawKey].(string); ok {
			return raw
		}
	}
	encoded, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Sprintf("%v", r.Data)
	}
	return string(encoded)
}

func timeoutResult(err error) Result {
	return Result{StatusCode: StatusTimeout, Data: map[string]any{ErrorKey: fmt.Sprintf("timeout calling API: %v", err)}, Synthetic: true}
}

func transportResult(format string, err error) Result {
	return Result{StatusCode: StatusTransportFailure, Data: map[string]any{ErrorKey: fmt.Sprintf(format, err)}, Synthetic: true}
}
