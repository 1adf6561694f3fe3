package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/itchyny/gojq"
	"github.com/kaptinlin/jsonrepair"

	"github.com/haivivi/streamx/pkg/streamx"
)

// ErrInvalidJSON is returned when the generated text is not a JSON document,
// even after repair.
var ErrInvalidJSON = errors.New("sources: invalid json output")

var _ Generator = (*JSON)(nil)

// JSON wraps a Generator whose text output is a JSON document. The text is
// collected in full, repaired if malformed, and emitted as structured
// chunks: the document itself, or one chunk per result of Query.
//
// Results that are not objects are wrapped as {"value": result}.
type JSON struct {
	Gen Generator
	// Query selects what to emit. Nil emits the whole document.
	Query *gojq.Query
	// Schema validates every emitted value.
	Schema *jsonschema.Resolved
	// Name is the chunk name. Defaults to "json".
	Name string
}

// NewJSON wraps g. expr is a jq expression and may be empty; schema is a
// JSON Schema document and may be nil.
func NewJSON(g Generator, expr string, schema []byte) (*JSON, error) {
	j := &JSON{Gen: g}
	if expr != "" {
		q, err := gojq.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("sources: invalid jq expression %q: %w", expr, err)
		}
		j.Query = q
	}
	if len(schema) > 0 {
		var s jsonschema.Schema
		if err := json.Unmarshal(schema, &s); err != nil {
			return nil, fmt.Errorf("sources: parse schema: %w", err)
		}
		rs, err := s.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("sources: resolve schema: %w", err)
		}
		j.Schema = rs
	}
	return j, nil
}

func (j *JSON) Generate(ctx context.Context, sb *streamx.StreamBuilder, prompt string) error {
	text, err := collectText(ctx, j.Gen, prompt)
	if err != nil {
		return err
	}
	doc, err := parseJSON(text)
	if err != nil {
		return err
	}

	values := []any{doc}
	if j.Query != nil {
		values = values[:0]
		iter := j.Query.RunWithContext(ctx, doc)
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, ok := v.(error); ok {
				return fmt.Errorf("sources: jq: %w", err)
			}
			values = append(values, v)
		}
	}

	name := j.Name
	if name == "" {
		name = "json"
	}
	for _, v := range values {
		if j.Schema != nil {
			if err := j.Schema.Validate(v); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
			}
		}
		obj, ok := v.(map[string]any)
		if !ok {
			obj = map[string]any{"value": v}
		}
		if err := sb.Add(&streamx.Chunk{Name: name, Part: streamx.Structured(obj)}); err != nil {
			return err
		}
	}
	return nil
}

// collectText runs g to completion and concatenates its text chunks.
func collectText(ctx context.Context, g Generator, prompt string) (string, error) {
	p := Open(ctx, g, prompt, 16)
	defer p.Close()
	var b strings.Builder
	for {
		c, err := p.Next()
		if streamx.IsDone(err) {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
		if t, ok := c.Part.(streamx.Text); ok {
			b.WriteString(string(t))
		}
	}
}

// parseJSON decodes text, running it through jsonrepair when it is not
// valid JSON, e.g. when a model stopped mid-object.
func parseJSON(text string) (any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty output", ErrInvalidJSON)
	}
	var v any
	err := json.Unmarshal([]byte(text), &v)
	if err == nil {
		return v, nil
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	fixed, rerr := jsonrepair.JSONRepair(text)
	if rerr != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	if err := json.Unmarshal([]byte(fixed), &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	return v, nil
}
