// Package api is the operator-facing HTTP surface: slot configuration,
// schedule management, and read-only health/state snapshots.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"rconflow/internal/domain"
	"rconflow/internal/recur"
	"rconflow/internal/remote"
	"rconflow/internal/schedule"
	"rconflow/internal/secret"
	"rconflow/internal/store"
)

type Server struct {
	r      *chi.Mux
	pool   *remote.Pool
	table  *schedule.Table
	cipher *secret.Cipher
	repo   *store.Store
}

func NewServer(pool *remote.Pool, table *schedule.Table, cipher *secret.Cipher, repo *store.Store) http.Handler {
	return NewServerWithDebug(pool, table, cipher, repo, false)
}

func NewServerWithDebug(pool *remote.Pool, table *schedule.Table, cipher *secret.Cipher, repo *store.Store, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, pool: pool, table: table, cipher: cipher, repo: repo}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)
	r.Get("/api/slots", s.listSlots)
	r.Put("/api/slots", s.configureSlots)
	r.Get("/api/entries", s.listEntries)
	r.Post("/api/entries", s.createEntry)
	r.Delete("/api/entries/{id}", s.deleteEntry)

	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("rconflow_up 1\n"))
}

func (s *Server) listSlots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, s.pool.States())
}

type slotReq struct {
	Slot     int    `json:"slot"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
}

func (s *Server) configureSlots(w http.ResponseWriter, r *http.Request) {
	var reqs []slotReq
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	slots := make([]domain.SlotConfig, 0, len(reqs))
	for _, req := range reqs {
		cfg := domain.SlotConfig{Slot: req.Slot, Host: req.Host, Port: req.Port}
		if req.Password != "" {
			// Plaintext never goes past this handler.
			ciphertext, err := s.cipher.Encrypt(req.Password)
			if err != nil {
				http.Error(w, "failed to protect credential", 500)
				return
			}
			cfg.Credential = ciphertext
		}
		slots = append(slots, cfg)
	}

	states := s.pool.Configure(slots)
	s.persist(r)
	writeJSON(w, 200, states)
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, s.table.Snapshot())
}

type createEntryReq struct {
	Command   string `json:"command"`
	Frequency string `json:"frequency"`
	Minute    int    `json:"minute"`
	Hour      int    `json:"hour"`
	Weekday   int    `json:"weekday"`
}

func (s *Server) createEntry(w http.ResponseWriter, r *http.Request) {
	var req createEntryReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Command == "" {
		http.Error(w, "command is required", 400)
		return
	}

	freq, err := recur.ParseFrequency(req.Frequency)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	rule, err := recur.New(freq, req.Minute, req.Hour, time.Weekday(req.Weekday))
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	view, err := s.table.Add(req.Command, rule, time.Now().UTC())
	if err != nil {
		if errors.Is(err, schedule.ErrEmptyCommand) {
			http.Error(w, err.Error(), 400)
			return
		}
		http.Error(w, err.Error(), 500)
		return
	}
	s.persist(r)
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) deleteEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.table.Remove(id) {
		http.Error(w, "not found", 404)
		return
	}
	s.persist(r)
	w.WriteHeader(http.StatusNoContent)
}

// persist snapshots slots and entries into the store after a mutation.
// Best effort: a write failure degrades restart fidelity, not the running
// schedule.
func (s *Server) persist(r *http.Request) {
	if s.repo == nil {
		return
	}
	entries := s.table.Entries()
	stored := make([]store.Entry, 0, len(entries))
	for _, e := range entries {
		stored = append(stored, store.Entry{ID: e.ID, Command: e.Command, Rule: e.Rule})
	}
	if err := s.repo.Save(r.Context(), s.pool.Configs(), stored); err != nil {
		log.Error().Err(err).Msg("failed to persist configuration")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
