package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/org/credbroker/internal/store"
)

type databaseStatus struct {
	Name   string `json:"name"`
	Locked bool   `json:"locked"`
	Active bool   `json:"active"`
}

type healthResponse struct {
	Status    string           `json:"status"`
	Databases []databaseStatus `json:"databases"`
	Clients   int              `json:"clients"`
}

// HealthHandler reports the lock state of every open database and the
// number of protocol clients seen so far.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	databases := s.broker.Databases()
	active := databases.Active()

	resp := healthResponse{
		Status:  "ok",
		Clients: len(s.registry.Clients()),
	}
	for _, db := range databases.Open() {
		resp.Databases = append(resp.Databases, databaseStatus{
			Name:   db.Name(),
			Locked: db.IsLocked(),
			Active: db == active,
		})
	}
	if active == nil || active.IsLocked() {
		resp.Status = "locked"
	}
	writeJSON(w, http.StatusOK, resp)
}

// SettingsHandler reports the active policy flags.
func (s *Server) SettingsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settings)
}

// ClientsHandler lists the protocol clients seen since start.
func (s *Server) ClientsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"clients": s.registry.Clients(),
	})
}

type storedKey struct {
	Label     string `json:"label"`
	CreatedAt string `json:"created_at,omitempty"`
}

// KeysHandler lists the client key associations of the active database.
// Key material is never exposed, only labels and creation times.
func (s *Server) KeysHandler(w http.ResponseWriter, r *http.Request) {
	keys, err := s.broker.ListClientKeys(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	out := make([]storedKey, 0, len(keys))
	for _, key := range keys {
		sk := storedKey{Label: key.Label}
		if !key.CreatedAt.IsZero() {
			sk.CreatedAt = key.CreatedAt.Format(time.RFC3339)
		}
		out = append(out, sk)
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": out, "count": len(out)})
}

// RevokeKeyHandler removes a client key association from the active
// database.
func (s *Server) RevokeKeyHandler(w http.ResponseWriter, r *http.Request) {
	label := chi.URLParam(r, "label")
	if err := s.broker.RemoveClientKey(r.Context(), label); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no key stored under this label")
			return
		}
		log.Warn().Err(err).Str("label", label).Msg("revoking client key")
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	log.Info().Str("label", label).Msg("client key revoked")
	writeJSON(w, http.StatusOK, map[string]any{"revoked": label})
}

// LockHandler locks the active database.
func (s *Server) LockHandler(w http.ResponseWriter, r *http.Request) {
	databases := s.broker.Databases()
	db := databases.Active()
	if db == nil {
		writeError(w, http.StatusServiceUnavailable, "no active database")
		return
	}
	databases.LockDatabase(db)
	writeJSON(w, http.StatusOK, map[string]any{"database": db.Name(), "locked": true})
}

// UnlockHandler unlocks the active database and broadcasts the
// transition to connected protocol clients.
func (s *Server) UnlockHandler(w http.ResponseWriter, r *http.Request) {
	databases := s.broker.Databases()
	db := databases.Active()
	if db == nil {
		writeError(w, http.StatusServiceUnavailable, "no active database")
		return
	}
	databases.UnlockDatabase(db)
	writeJSON(w, http.StatusOK, map[string]any{"database": db.Name(), "locked": false})
}

// AuditLogHandler returns paginated audit entries from the active
// database. Filters: client, host, limit, offset.
func (s *Server) AuditLogHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.AuditFilter{
		ClientID: q.Get("client"),
		Host:     q.Get("host"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}

	entries, err := s.auditor.Query(r.Context(), filter)
	if err != nil {
		log.Warn().Err(err).Str("request_id", requestIDFromCtx(r.Context())).Msg("querying audit log")
		writeError(w, http.StatusServiceUnavailable, "audit log unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
