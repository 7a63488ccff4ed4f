// Package envelope defines the two response shapes every gateway endpoint
// emits and the error taxonomy that goes with them.
package envelope

import (
	"encoding/json"
	"errors"
	"time"
)

// TimeFormat is used for every timestamp the gateway renders.
const TimeFormat = time.RFC3339

// Payload lets a handler return data together with extra meta fields.
type Payload struct {
	Data any
	Meta map[string]any
}

func WithMeta(data any, meta map[string]any) Payload {
	return Payload{Data: data, Meta: meta}
}

// SuccessBody is {success: true, data, meta: {timestamp, ...extra}}.
type SuccessBody struct {
	Success bool           `json:"success"`
	Data    any            `json:"data"`
	Meta    map[string]any `json:"meta"`
}

func Success(result any, now time.Time) SuccessBody {
	data := result
	meta := make(map[string]any)

	switch p := result.(type) {
	case Payload:
		data = p.Data
		for k, v := range p.Meta {
			meta[k] = v
		}
	case *Payload:
		if p != nil {
			data = p.Data
			for k, v := range p.Meta {
				meta[k] = v
			}
		}
	}

	meta["timestamp"] = now.UTC().Format(TimeFormat)

	return SuccessBody{
		Success: true,
		Data:    data,
		Meta:    meta,
	}
}

// ErrorBody renders {error, code, timestamp, ...extra}. Extra fields never
// override the three reserved keys.
func ErrorBody(e *Error, now time.Time) map[string]any {
	body := make(map[string]any, len(e.Extra)+3)
	for k, v := range e.Extra {
		body[k] = v
	}

	body["error"] = e.Message
	body["code"] = e.Kind
	body["timestamp"] = now.UTC().Format(TimeFormat)

	return body
}

// ErrorFields is the part of an error body every client can rely on.
type ErrorFields struct {
	Error     string `json:"error"`
	Code      Kind   `json:"code"`
	Timestamp string `json:"timestamp"`
}

var ErrNotErrorBody = errors.New("body is not an error envelope")

// ParseError decodes an error body and checks that its code belongs to the
// taxonomy.
func ParseError(data []byte) (ErrorFields, error) {
	var f ErrorFields
	if err := json.Unmarshal(data, &f); err != nil {
		return ErrorFields{}, err
	}

	if !f.Code.Known() || f.Timestamp == "" {
		return ErrorFields{}, ErrNotErrorBody
	}

	if _, err := time.Parse(TimeFormat, f.Timestamp); err != nil {
		return ErrorFields{}, err
	}

	return f, nil
}
