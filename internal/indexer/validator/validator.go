// Package validator checks ingest events before they reach the engine and
// returns per-field error details.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/consumer"
)

const (
	maxFields     = 256
	maxFieldName  = 255
	maxTextLength = 1 << 20
	maxTokens     = 1 << 16
	maxIDLength   = 255
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// ValidateDocument checks an add event: it must name at least one field,
// every field needs a name, and each field is indexed or stored.
func ValidateDocument(event *consumer.IngestEvent) error {
	errs := make(map[string]string)
	if len(event.ID) > maxIDLength {
		errs["id"] = fmt.Sprintf("id must be at most %d characters", maxIDLength)
	}
	if event.Op != "" && event.Op != consumer.OpAdd {
		errs["op"] = fmt.Sprintf("op must be %q", consumer.OpAdd)
	}
	switch {
	case len(event.Fields) == 0:
		errs["fields"] = "at least one field is required"
	case len(event.Fields) > maxFields:
		errs["fields"] = fmt.Sprintf("at most %d fields", maxFields)
	}
	for i, f := range event.Fields {
		key := fmt.Sprintf("fields[%d]", i)
		if f.Name != "" {
			key = fmt.Sprintf("fields[%d].%s", i, f.Name)
		}
		if msg := checkField(f); msg != "" {
			errs[key] = msg
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func checkField(f consumer.FieldEvent) string {
	indexed := f.Index == nil || *f.Index
	typed := 0
	for _, set := range []bool{f.Int != nil, f.Float != nil, f.Binary != nil} {
		if set {
			typed++
		}
	}
	switch {
	case strings.TrimSpace(f.Name) == "":
		return "name is required"
	case len(f.Name) > maxFieldName:
		return fmt.Sprintf("name must be at most %d characters", maxFieldName)
	case len(f.Text) > maxTextLength:
		return fmt.Sprintf("text must be at most %d bytes", maxTextLength)
	case len(f.Tokens) > maxTokens:
		return fmt.Sprintf("at most %d tokens", maxTokens)
	case !indexed && !f.Store:
		return "field is neither indexed nor stored"
	case typed > 1:
		return "at most one of int, float, binary"
	case typed > 0 && !f.Store:
		return "typed values are only stored"
	}
	return ""
}

// ValidateTerm checks the target of a delete or lookup.
func ValidateTerm(field, text string) error {
	errs := make(map[string]string)
	if strings.TrimSpace(field) == "" {
		errs["field"] = "field is required"
	} else if len(field) > maxFieldName {
		errs["field"] = fmt.Sprintf("field must be at most %d characters", maxFieldName)
	}
	if len(text) > maxTextLength {
		errs["text"] = fmt.Sprintf("text must be at most %d bytes", maxTextLength)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
