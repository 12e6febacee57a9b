// Package consumer reads ingest events from Kafka and applies them to the
// indexer engine.
package consumer

import (
	"context"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/storedfields"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/term"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/logger"
)

const (
	OpAdd    = "add"
	OpDelete = "delete"
)

// IngestEvent is the JSON value of an ingest message. Delete events carry
// the term selecting the documents to remove.
type IngestEvent struct {
	ID     string       `json:"id"`
	Op     string       `json:"op"`
	Fields []FieldEvent `json:"fields,omitempty"`
	Term   *TermEvent   `json:"term,omitempty"`
}

// FieldEvent is one field value. Text is analyzed unless Tokens are given
// or Keyword is set. Store keeps a verbatim copy; Int, Float or Binary
// replace Text as the stored value.
type FieldEvent struct {
	Name    string       `json:"name"`
	Text    string       `json:"text,omitempty"`
	Tokens  []TokenEvent `json:"tokens,omitempty"`
	Keyword bool         `json:"keyword,omitempty"`
	Index   *bool        `json:"index,omitempty"`
	Store   bool         `json:"store,omitempty"`
	Int     *int64       `json:"int,omitempty"`
	Float   *float64     `json:"float,omitempty"`
	Binary  []byte       `json:"binary,omitempty"`
}

// TokenEvent is a pre-analyzed token.
type TokenEvent struct {
	Text              string `json:"text"`
	PositionIncrement *int   `json:"inc,omitempty"`
	StartOffset       int    `json:"start"`
	EndOffset         int    `json:"end"`
	Payload           []byte `json:"payload,omitempty"`
}

type TermEvent struct {
	Field string `json:"field"`
	Text  string `json:"text"`
}

// Engine is the part of the indexer the consumer drives.
type Engine interface {
	AddDocument(ctx context.Context, doc index.Document) error
	DeleteByTerm(ctx context.Context, t term.Term) (int, error)
}

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   logger.WithComponent("index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler applying each ingest event
// to engine. Malformed events fail with ErrInvalidInput so the consumer
// drops them instead of retrying.
func HandleMessage(engine Engine, analyzer tokenizer.Analyzer) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		log := logger.FromContext(ctx).With("component", "index-consumer")
		event, err := kafka.DecodeJSON[IngestEvent](value)
		if err != nil {
			return err
		}
		switch event.Op {
		case OpDelete:
			if event.Term == nil || event.Term.Field == "" {
				return kafka.ErrUnexpectedValue("delete event %s without a term", event.ID)
			}
			n, err := engine.DeleteByTerm(ctx, term.NewTerm(event.Term.Field, event.Term.Text))
			if err != nil {
				return err
			}
			log.Info("documents deleted", "doc_id", event.ID, "field", event.Term.Field, "count", n)
			return nil
		case OpAdd, "":
			doc, err := ToDocument(event, analyzer)
			if err != nil {
				return err
			}
			if err := engine.AddDocument(ctx, doc); err != nil {
				return err
			}
			log.Debug("document indexed", "doc_id", event.ID, "fields", len(doc))
			return nil
		default:
			return kafka.ErrUnexpectedValue("event %s: unknown op %q", event.ID, event.Op)
		}
	}
}

// ToDocument converts an add event into an engine document.
func ToDocument(event IngestEvent, analyzer tokenizer.Analyzer) (index.Document, error) {
	if len(event.Fields) == 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, "event %s has no fields", event.ID)
	}
	doc := make(index.Document, 0, len(event.Fields))
	for _, f := range event.Fields {
		if f.Name == "" {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, "event %s: field without a name", event.ID)
		}
		field := index.Field{Name: f.Name}
		if f.Index == nil || *f.Index {
			switch {
			case len(f.Tokens) > 0:
				field.Tokens = make([]tokenizer.Token, len(f.Tokens))
				for i, t := range f.Tokens {
					inc := 1
					if t.PositionIncrement != nil {
						inc = *t.PositionIncrement
					}
					field.Tokens[i] = tokenizer.Token{
						Text:              t.Text,
						PositionIncrement: inc,
						StartOffset:       t.StartOffset,
						EndOffset:         t.EndOffset,
						Payload:           t.Payload,
					}
				}
				field.Tokenized = true
			case f.Keyword:
				field.Tokens = tokenizer.Keyword(f.Text)
			default:
				field.Tokens = analyzer.Tokenize(f.Text)
				field.Tokenized = true
			}
		}
		if f.Store {
			var v storedfields.Value
			switch {
			case f.Int != nil:
				v = storedfields.Int64Value(*f.Int)
			case f.Float != nil:
				v = storedfields.Float64Value(*f.Float)
			case f.Binary != nil:
				v = storedfields.BinaryValue(f.Binary)
			default:
				v = storedfields.StringValue(f.Text)
			}
			field.Stored = &v
		}
		doc = append(doc, field)
	}
	return doc, nil
}
