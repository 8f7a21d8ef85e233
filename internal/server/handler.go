// Package server exposes a tally.Store over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tckz/tally-counter/internal/tally"
)

const (
	ActionGet = "get"
	ActionInc = "inc"
)

// Handler answers ?action=get and ?action=inc with the record as JSON.
// Anything else is handed to the page handler.
type Handler struct {
	store  tally.Store
	page   http.Handler
	now    func() time.Time
	loc    *time.Location
	logger *zap.SugaredLogger
}

type Option func(h *Handler)

// WithClock replaces time.Now as the source of the increment weekday.
func WithClock(now func() time.Time) Option {
	return Option(func(h *Handler) {
		h.now = now
	})
}

func WithLocation(loc *time.Location) Option {
	return Option(func(h *Handler) {
		h.loc = loc
	})
}

func WithLogger(l *zap.SugaredLogger) Option {
	return Option(func(h *Handler) {
		h.logger = l
	})
}

func WithPage(page http.Handler) Option {
	return Option(func(h *Handler) {
		h.page = page
	})
}

func NewHandler(store tally.Store, opts ...Option) *Handler {
	h := &Handler{
		store:  store,
		now:    time.Now,
		loc:    time.Local,
		logger: zap.NewNop().Sugar(),
	}
	for _, e := range opts {
		e(h)
	}
	if h.page == nil {
		h.page = NewPage(nil)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Only GET runs actions; every other method gets the page.
	action := ""
	if r.Method == http.MethodGet {
		action = r.URL.Query().Get("action")
	}

	switch action {
	case ActionGet:
		rec, err := h.store.Load(ctx)
		if err != nil {
			h.logger.Errorf("store.Load: %v", err)
			h.jsonError(w, "failed to load", http.StatusInternalServerError)
			return
		}
		h.jsonOK(w, rec)
	case ActionInc:
		day := h.now().In(h.loc).Weekday()
		rec, err := h.store.Increment(ctx, day)
		if err != nil {
			h.logger.Errorf("store.Increment: weekday=%s, %v", day, err)
			code := http.StatusInternalServerError
			if errors.Is(err, tally.ErrInvalidWeekday) {
				code = http.StatusBadRequest
			}
			h.jsonError(w, "failed to increment", code)
			return
		}
		h.jsonOK(w, rec)
	default:
		h.page.ServeHTTP(w, r)
	}
}

func (h *Handler) jsonOK(w http.ResponseWriter, rec tally.Record) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(rec); err != nil {
		h.logger.Warnf("Encode: %v", err)
	}
}

func (h *Handler) jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		h.logger.Warnf("Encode: %v", err)
	}
}
