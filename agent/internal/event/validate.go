package event

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/launchthat/openclaw-connector/pkg/types"
)

//go:embed event.schema.json
var schemaJSON string

const schemaURL = "https://schemas.launchthat.local/openclaw/event.schema.json"

var compiled = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("event: load schema: %w", err)
	}
	return c.Compile(schemaURL)
})

// ValidationError reports a record that does not match the event schema.
// Field is a JSON pointer to the offending location ("/agent/status"),
// or "/" when the record itself is not an object.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IdempotencyKey derives the key used when a producer did not supply one.
// It is a pure function of its inputs.
func IdempotencyKey(t types.EventType, eventID string, occurredAt int64) string {
	return string(t) + ":" + eventID + ":" + strconv.FormatInt(occurredAt, 10)
}

// Parse validates raw against the event schema and returns the normalized
// Event. Unknown top-level properties are ignored.
func Parse(raw []byte) (types.Event, error) {
	schema, err := compiled()
	if err != nil {
		return types.Event{}, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return types.Event{}, &ValidationError{Field: "/", Reason: "malformed JSON: " + err.Error()}
	}
	if _, err := dec.Token(); err != io.EOF {
		return types.Event{}, &ValidationError{Field: "/", Reason: "unexpected data after the event object"}
	}

	if err := schema.Validate(doc); err != nil {
		var se *jsonschema.ValidationError
		if errors.As(err, &se) {
			return types.Event{}, fromSchemaError(se)
		}
		return types.Event{}, fmt.Errorf("event: validate: %w", err)
	}

	var ev types.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		// Schema-valid but not representable, e.g. occurredAt outside int64.
		return types.Event{}, fromDecodeError(err)
	}
	obj, _ := doc.(map[string]interface{})
	_, hasKey := obj["idempotencyKey"]
	return fill(ev, hasKey), nil
}

// fromDecodeError locates a decoding failure. Type errors carry the dotted
// path of the offending field.
func fromDecodeError(err error) *ValidationError {
	var te *json.UnmarshalTypeError
	if errors.As(err, &te) && te.Field != "" {
		return &ValidationError{Field: "/" + strings.ReplaceAll(te.Field, ".", "/"), Reason: err.Error()}
	}
	return &ValidationError{Field: "/", Reason: err.Error()}
}

// Normalize validates an already-typed Event by running it through the same
// schema as Parse. It is the entry point for Go producers; an empty
// IdempotencyKey counts as unset and is derived.
func Normalize(ev types.Event) (types.Event, error) {
	if ev.Metadata == nil {
		ev.Metadata = map[string]string{}
	}
	if ev.IdempotencyKey == "" {
		ev.IdempotencyKey = IdempotencyKey(ev.EventType, ev.EventID, ev.OccurredAt)
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return types.Event{}, fmt.Errorf("event: marshal: %w", err)
	}
	return Parse(raw)
}

// fill applies the defaults validation is allowed to set. The key is
// derived only when the record did not carry one; an explicit empty string
// is kept.
func fill(ev types.Event, hasKey bool) types.Event {
	if !hasKey {
		ev.IdempotencyKey = IdempotencyKey(ev.EventType, ev.EventID, ev.OccurredAt)
	}
	if ev.Metadata == nil {
		ev.Metadata = map[string]string{}
	}
	return ev
}

// fromSchemaError reduces a schema error tree to its deepest first cause.
func fromSchemaError(se *jsonschema.ValidationError) *ValidationError {
	leaf := se
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}

	field := leaf.InstanceLocation
	if strings.HasSuffix(leaf.KeywordLocation, "/required") {
		if name, ok := quoted(leaf.Message); ok {
			field = field + "/" + name
		}
	}
	if field == "" {
		field = "/"
	}
	return &ValidationError{Field: field, Reason: leaf.Message}
}

// quoted returns the first single-quoted token in msg.
func quoted(msg string) (string, bool) {
	start := strings.IndexByte(msg, '\'')
	if start < 0 {
		return "", false
	}
	end := strings.IndexByte(msg[start+1:], '\'')
	if end < 0 {
		return "", false
	}
	return msg[start+1 : start+1+end], true
}

// Records splits a producer payload into individual raw event records.
// Accepted shapes: a single event object, a JSON array of events, or an
// {"events": [...]} envelope.
func Records(raw []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, &ValidationError{Field: "/", Reason: "empty payload"}
	}

	if trimmed[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, &ValidationError{Field: "/", Reason: "malformed JSON: " + err.Error()}
		}
		return list, nil
	}

	var envelope struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, &ValidationError{Field: "/", Reason: "malformed JSON: " + err.Error()}
	}
	if envelope.Events != nil {
		return envelope.Events, nil
	}
	return []json.RawMessage{json.RawMessage(trimmed)}, nil
}
