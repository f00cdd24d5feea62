package batch

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"horse.fit/marketpulse/internal/reconcile"
)

//go:embed batch.schema.json
var batchSchemaJSON string

const schemaURL = "batch.schema.json"

// TopLevel is the wire shape of one batch record.
type TopLevel struct {
	ID              *string `json:"id"`
	SourceChannel   *string `json:"source_channel"`
	RegionDefault   *string `json:"region_default"`
	TitleText       *string `json:"title_text"`
	BodyText        *string `json:"body_text"`
	Author          *string `json:"author"`
	URL             *string `json:"url"`
	EngagementScore int     `json:"engagement_score"`
	ReplyCount      int     `json:"reply_count"`
	CreatedAt       *string `json:"created_at"`
	Children        []any   `json:"children"`
}

type Child struct {
	ID              *string `json:"id"`
	ParentID        *string `json:"parent_id"`
	Author          *string `json:"author"`
	BodyText        *string `json:"body_text"`
	EngagementScore int     `json:"engagement_score"`
}

// schemas holds the envelope schema and the per-record schemas. Only the
// envelope rejects a whole batch; records are checked one at a time.
type schemas struct {
	envelope *jsonschema.Schema
	post     *jsonschema.Schema
	comment  *jsonschema.Schema
}

var (
	compileOnce       sync.Once
	compiledSchemas   *schemas
	compiledSchemaErr error
)

// Decode validates raw and converts it to a reconcile.Batch. A broken
// envelope fails the whole batch. A record that does not fit its schema, or
// that misses an id or text, is kept with its defect noted; the engine counts
// it as malformed. fallbackSource labels batches without a source field.
func Decode(raw []byte, fallbackSource string) (reconcile.Batch, error) {
	value, err := decodeStrictJSON(raw)
	if err != nil {
		return reconcile.Batch{}, fmt.Errorf("decode batch JSON: %w", err)
	}

	s, err := loadSchemas()
	if err != nil {
		return reconcile.Batch{}, fmt.Errorf("load schema: %w", err)
	}
	if err := s.envelope.Validate(value); err != nil {
		return reconcile.Batch{}, fmt.Errorf("schema validation failed: %w", err)
	}

	doc, _ := value.(map[string]any)
	source, _ := doc["source"].(string)
	out := reconcile.Batch{Source: strings.TrimSpace(source)}
	if out.Source == "" {
		out.Source = strings.TrimSpace(fallbackSource)
	}
	if out.Source == "" {
		return reconcile.Batch{}, fmt.Errorf("source must not be empty")
	}

	if fetchedAt, ok := doc["fetched_at"].(string); ok {
		parsed, err := parseTimestamp(fetchedAt)
		if err != nil {
			return reconcile.Batch{}, fmt.Errorf("fetched_at must be RFC3339: %w", err)
		}
		out.ObservedAt = parsed
	}

	items, _ := doc["items"].([]any)
	out.Posts = make([]reconcile.PostRecord, 0, len(items))
	for i, item := range items {
		out.Posts = append(out.Posts, s.decodePost(i, item))
	}
	return out, nil
}

func (s *schemas) decodePost(index int, raw any) reconcile.PostRecord {
	malformed := func(err error) reconcile.PostRecord {
		return reconcile.PostRecord{
			ID:     idOf(raw),
			Defect: fmt.Sprintf("items[%d]: %s", index, describe(err)),
		}
	}

	if err := s.post.Validate(raw); err != nil {
		return malformed(err)
	}
	var item TopLevel
	if err := remarshal(raw, &item); err != nil {
		return malformed(err)
	}

	post := reconcile.PostRecord{
		ID:              deref(item.ID),
		SourceChannel:   deref(item.SourceChannel),
		RegionDefault:   deref(item.RegionDefault),
		Title:           deref(item.TitleText),
		Body:            deref(item.BodyText),
		Author:          deref(item.Author),
		URL:             deref(item.URL),
		EngagementScore: item.EngagementScore,
		ReplyCount:      item.ReplyCount,
		Children:        make([]reconcile.CommentRecord, 0, len(item.Children)),
	}
	if item.CreatedAt != nil && strings.TrimSpace(*item.CreatedAt) != "" {
		createdAt, err := parseTimestamp(*item.CreatedAt)
		if err != nil {
			return malformed(fmt.Errorf("created_at must be RFC3339: %w", err))
		}
		post.CreatedAt = createdAt
	}
	for j, child := range item.Children {
		post.Children = append(post.Children, s.decodeComment(index, j, child))
	}
	return post
}

func (s *schemas) decodeComment(index, childIndex int, raw any) reconcile.CommentRecord {
	var child Child
	err := s.comment.Validate(raw)
	if err == nil {
		err = remarshal(raw, &child)
	}
	if err != nil {
		return reconcile.CommentRecord{
			ID:     idOf(raw),
			Defect: fmt.Sprintf("items[%d].children[%d]: %s", index, childIndex, describe(err)),
		}
	}
	return reconcile.CommentRecord{
		ID:              deref(child.ID),
		ParentID:        deref(child.ParentID),
		Author:          deref(child.Author),
		Body:            deref(child.BodyText),
		EngagementScore: child.EngagementScore,
	}
}

func loadSchemas() (*schemas, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource(schemaURL, strings.NewReader(batchSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		var out schemas
		for _, target := range []struct {
			ref  string
			into **jsonschema.Schema
		}{
			{ref: schemaURL, into: &out.envelope},
			{ref: schemaURL + "#/$defs/top_level", into: &out.post},
			{ref: schemaURL + "#/$defs/child", into: &out.comment},
		} {
			schema, err := compiler.Compile(target.ref)
			if err != nil {
				compiledSchemaErr = fmt.Errorf("compile schema %s: %w", target.ref, err)
				return
			}
			*target.into = schema
		}
		compiledSchemas = &out
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchemas == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchemas, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("batch is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("batch contains trailing content")
	}

	return value, nil
}

// remarshal converts an already validated JSON value into its wire struct.
func remarshal(value any, into any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, into)
}

// idOf recovers a record id for logging when the record itself is unusable.
func idOf(raw any) string {
	record, ok := raw.(map[string]any)
	if !ok {
		return ""
	}
	id, _ := record["id"].(string)
	return strings.TrimSpace(id)
}

// describe flattens a schema error to its innermost cause.
func describe(err error) string {
	var validation *jsonschema.ValidationError
	if errors.As(err, &validation) {
		for len(validation.Causes) > 0 {
			validation = validation.Causes[0]
		}
		location := validation.InstanceLocation
		if location == "" {
			location = "/"
		}
		return location + ": " + validation.Message
	}
	return err.Error()
}

func parseTimestamp(value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
