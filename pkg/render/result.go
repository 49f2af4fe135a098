package render

import (
	"encoding/json"
)

// Result is the outcome of one batch item: exactly one of a rendered value or
// an error.
type Result struct {
	Value string
	Err   *StructuredError
}

// Success wraps a rendered value.
func Success(value string) Result {
	return Result{Value: value}
}

// Failure wraps a structured error.
func Failure(err StructuredError) Result {
	return Result{Err: &err}
}

// OK reports whether the item rendered.
func (r Result) OK() bool {
	return r.Err == nil
}

// MarshalJSON emits {"result": "..."} or {"error": {...}}.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(struct {
			Error *StructuredError `json:"error"`
		}{r.Err})
	}
	return json.Marshal(struct {
		Result string `json:"result"`
	}{r.Value})
}

// UnmarshalJSON accepts the shape MarshalJSON produces. A bare string error,
// as older front ends sent for whole-batch failures, becomes the message.
func (r *Result) UnmarshalJSON(data []byte) error {
	var wire struct {
		Result *string          `json:"result"`
		Error  *json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = Result{}
	if wire.Error != nil {
		var structured StructuredError
		if err := json.Unmarshal(*wire.Error, &structured); err != nil {
			var message string
			if err := json.Unmarshal(*wire.Error, &message); err != nil {
				return err
			}
			structured = StructuredError{Message: message}
		}
		r.Err = &structured
		return nil
	}
	if wire.Result != nil {
		r.Value = *wire.Result
	}
	return nil
}

// FanOut gives every one of n slots the same raw error message. It is the
// whole-batch failure shape: no extraction, no location.
func FanOut(err error, n int) []Result {
	results := make([]Result, n)
	for i := range results {
		results[i] = Failure(StructuredError{Message: err.Error()})
	}
	return results
}
