package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/consumer"
)

func TestValidateDocument(t *testing.T) {
	no := false
	n := int64(7)
	ok := &consumer.IngestEvent{ID: "d1", Fields: []consumer.FieldEvent{
		{Name: "body", Text: "the quick fox"},
		{Name: "views", Int: &n, Store: true, Index: &no},
	}}
	require.NoError(t, ValidateDocument(ok))

	bad := &consumer.IngestEvent{ID: "d2", Op: consumer.OpDelete, Fields: []consumer.FieldEvent{
		{Name: " "},
		{Name: "hidden", Text: "x", Index: &no},
		{Name: "views", Int: &n},
		{Name: "huge", Text: strings.Repeat("a", maxTextLength+1)},
	}}
	err := ValidateDocument(bad)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, map[string]string{
		"op":               "op must be \"add\"",
		"fields[0]. ":      "name is required",
		"fields[1].hidden": "field is neither indexed nor stored",
		"fields[2].views":  "typed values are only stored",
		"fields[3].huge":   "text must be at most 1048576 bytes",
	}, verr.Fields)

	err = ValidateDocument(&consumer.IngestEvent{ID: "empty"})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "fields")
}

func TestValidateTerm(t *testing.T) {
	assert.NoError(t, ValidateTerm("body", ""))
	err := ValidateTerm("", "fox")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "field:field is required", verr.Error())
}
