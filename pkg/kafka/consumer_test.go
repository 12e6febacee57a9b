package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

type ingest struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

func TestDecodeJSON(t *testing.T) {
	ev, err := DecodeJSON[ingest]([]byte(`{"id":"d1","fields":{"body":"quick fox"}}`))
	require.NoError(t, err)
	assert.Equal(t, "d1", ev.ID)
	assert.Equal(t, "quick fox", ev.Fields["body"])
}

func TestDecodeJSONMalformedIsPermanent(t *testing.T) {
	_, err := DecodeJSON[ingest]([]byte(`{"id":`))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.False(t, apperrors.Retryable(err))
	assert.False(t, apperrors.Retryable(ErrUnexpectedValue("unknown op %q", "upsert")))
}

func TestEncodeEvent(t *testing.T) {
	msg, err := encode(Event{Key: "default", Value: map[string]int{"generation": 7}, Type: "commit.flush"})
	require.NoError(t, err)
	assert.Equal(t, "default", string(msg.Key))
	assert.JSONEq(t, `{"generation":7}`, string(msg.Value))
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "event-type", msg.Headers[1].Key)
	assert.Equal(t, "commit.flush", string(msg.Headers[1].Value))

	_, err = encode(Event{Key: "x", Value: make(chan int)})
	assert.Error(t, err)
}
