// Package handler serves the indexer's admin API: direct document adds,
// term deletes and lookups, and on-demand flushes and merges.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/postings"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/validator"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/multiview"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/term"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/middleware"
)

const (
	maxBodyBytes  = 8 << 20
	defaultLimit  = 10
	maxMatchLimit = 1000
)

// Engine is the part of the indexer the admin API drives.
type Engine interface {
	consumer.Engine
	Flush(ctx context.Context) error
	ForceMerge(ctx context.Context) error
	Stats() indexer.Stats
	Acquire() (*multiview.View, error)
}

type Handler struct {
	engine   Engine
	analyzer tokenizer.Analyzer
	logger   *slog.Logger
}

func New(engine Engine, analyzer tokenizer.Analyzer) *Handler {
	return &Handler{
		engine:   engine,
		analyzer: analyzer,
		logger:   logger.WithComponent("admin-handler"),
	}
}

// Routes returns the admin API wrapped in request id, metrics, and timeout
// middleware.
func (h *Handler) Routes(m *metrics.Metrics, timeout time.Duration) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/documents", h.AddDocument)
	mux.HandleFunc("GET /api/v1/terms/{field}/{text}", h.LookupTerm)
	mux.HandleFunc("DELETE /api/v1/terms/{field}/{text}", h.DeleteTerm)
	mux.HandleFunc("POST /api/v1/flush", h.Flush)
	mux.HandleFunc("POST /api/v1/merge", h.Merge)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	return middleware.RequestID(middleware.Metrics(m)(middleware.Timeout(timeout)(mux)))
}

// AddResponse acknowledges a buffered document. It becomes searchable once
// the next flush commits.
type AddResponse struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
}

func (h *Handler) AddDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var event consumer.IngestEvent
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&event); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validator.ValidateDocument(&event); err != nil {
		h.writeValidation(w, err)
		return
	}
	doc, err := consumer.ToDocument(event, h.analyzer)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.AddDocument(ctx, doc); err != nil {
		h.fail(ctx, w, "adding document", err)
		return
	}
	logger.FromContext(ctx).Debug("document buffered", "doc_id", event.ID, "fields", len(doc))
	h.writeJSON(w, http.StatusAccepted, AddResponse{ID: event.ID, Status: "buffered"})
}

// Match is one live document containing a looked-up term.
type Match struct {
	Doc    int32         `json:"doc"`
	Freq   int32         `json:"freq,omitempty"`
	Stored []StoredValue `json:"stored,omitempty"`
}

type StoredValue struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// LookupResponse reports a term's frequency and up to limit matching live
// documents, in doc id order.
type LookupResponse struct {
	Field   string  `json:"field"`
	Text    string  `json:"text"`
	DocFreq int32   `json:"doc_freq"`
	Matches []Match `json:"matches"`
}

func (h *Handler) LookupTerm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	field, text := r.PathValue("field"), r.PathValue("text")
	if err := validator.ValidateTerm(field, text); err != nil {
		h.writeValidation(w, err)
		return
	}
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > maxMatchLimit {
			h.writeError(w, http.StatusBadRequest, "limit must be between 0 and "+strconv.Itoa(maxMatchLimit))
			return
		}
		limit = n
	}

	view, err := h.engine.Acquire()
	if err != nil {
		h.fail(ctx, w, "acquiring view", err)
		return
	}
	defer func() {
		if err := view.Release(); err != nil {
			h.logger.Error("releasing view", "error", err)
		}
	}()
	resp, err := lookup(ctx, view, term.NewTerm(field, text), limit)
	if err != nil {
		h.fail(ctx, w, "looking up term", err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func lookup(ctx context.Context, view *multiview.View, t term.Term, limit int) (*LookupResponse, error) {
	resp := &LookupResponse{Field: t.Field, Text: t.Text(), Matches: []Match{}}
	df, err := view.DocFreq(t)
	if err != nil {
		return nil, err
	}
	resp.DocFreq = df
	cur, found, err := view.Postings(t)
	if err != nil || !found {
		return resp, err
	}
	for len(resp.Matches) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := cur.NextDoc()
		if err != nil {
			return nil, err
		}
		if doc == postings.NoMoreDocs {
			break
		}
		m := Match{Doc: doc}
		if cur.Level().HasFreqs() {
			if m.Freq, err = cur.Freq(); err != nil {
				return nil, err
			}
		}
		fields, err := view.Document(doc)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			m.Stored = append(m.Stored, StoredValue{Name: f.Name, Value: f.Value.Any()})
		}
		resp.Matches = append(resp.Matches, m)
	}
	return resp, nil
}

type DeleteResponse struct {
	Deleted int `json:"deleted"`
}

func (h *Handler) DeleteTerm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	field, text := r.PathValue("field"), r.PathValue("text")
	if err := validator.ValidateTerm(field, text); err != nil {
		h.writeValidation(w, err)
		return
	}
	n, err := h.engine.DeleteByTerm(ctx, term.NewTerm(field, text))
	if err != nil {
		h.fail(ctx, w, "deleting by term", err)
		return
	}
	logger.FromContext(ctx).Info("documents deleted", "field", field, "count", n)
	h.writeJSON(w, http.StatusOK, DeleteResponse{Deleted: n})
}

func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Flush(r.Context()); err != nil {
		h.fail(r.Context(), w, "flushing", err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.engine.Stats())
}

func (h *Handler) Merge(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ForceMerge(r.Context()); err != nil {
		h.fail(r.Context(), w, "merging", err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.engine.Stats())
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Stats())
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	status := apperrors.HTTPStatusCode(err)
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	log := logger.FromContext(ctx)
	if status >= http.StatusInternalServerError {
		log.Error(op+" failed", "error", err, "status_code", status, "segment", apperrors.SegmentOf(err))
		h.writeError(w, status, op+" failed")
		return
	}
	log.Warn(op+" rejected", "error", err, "status_code", status)
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeValidation(w http.ResponseWriter, err error) {
	var validationErr *validator.ValidationError
	if errors.As(err, &validationErr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": validationErr.Fields,
		})
		return
	}
	h.writeError(w, http.StatusBadRequest, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
