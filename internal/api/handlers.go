package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/cyberlens/cyber-lens/internal/lookup"
	"github.com/cyberlens/cyber-lens/internal/orchestrator"
	"github.com/cyberlens/cyber-lens/internal/store"
)

// OwnerHeader carries the authenticated user id. It must be set by a trusted
// fronting proxy that strips any client-supplied value; the server only reads
// it when Options.TrustProxy is set.
const OwnerHeader = "X-Owner-ID"

const invalidIOCMessage = "Missing or invalid 'ioc' field"

type lookupRequest struct {
	IOC  string `json:"ioc" validate:"required,max=2048"`
	Type string `json:"type" validate:"omitempty,max=32"`
}

type historyEntryResponse struct {
	store.HistoryEntry
	Response json.RawMessage `json:"response"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// owner resolves who a request acts for: the X-Owner-ID user behind a trusted
// proxy, else the client address as guest.
func (s *Server) owner(r *http.Request) (store.Owner, bool) {
	if s.opts.TrustProxy {
		if id := strings.TrimSpace(r.Header.Get(OwnerHeader)); id != "" {
			return store.Owner{Type: "user", ID: id}, true
		}
	}
	if ip := s.clientIP(r); ip != "" {
		return store.Owner{Type: "guest", ID: ip}, true
	}
	return store.Owner{}, false
}

// handleLookup accepts POST /lookup {ioc, type?}
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)

	var req lookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, invalidIOCMessage)
		return
	}
	req.IOC = strings.TrimSpace(req.IOC)
	req.Type = strings.TrimSpace(req.Type)
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, invalidIOCMessage)
		return
	}

	lr := lookup.Request{IOC: req.IOC, Type: req.Type}
	if owner, ok := s.owner(r); ok {
		lr.Owner = &owner
	}

	res, err := s.lookups.Lookup(r.Context(), lr)
	if err != nil {
		if errors.Is(err, orchestrator.ErrInvalidIOC) {
			writeError(w, http.StatusBadRequest, invalidIOCMessage)
			return
		}
		s.logger.Errorw("lookup failed", "ioc", req.IOC, "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Lookup failed", "details": err.Error()})
		return
	}
	if res.ID != "" {
		w.Header().Set("X-Lookup-ID", res.ID)
	}
	writeJSON(w, http.StatusOK, res.Response)
}

// handleHistory serves GET /history?limit&offset&q for the resolved owner
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "History is disabled")
		return
	}
	owner, ok := s.owner(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Owner not resolved")
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	entries, err := s.history.QueryHistory(r.Context(), store.HistoryQuery{
		Owner:  owner,
		Limit:  store.ClampLimit(limit),
		Offset: max(offset, 0),
		Search: strings.TrimSpace(q.Get("q")),
	})
	if err != nil {
		s.logger.Errorw("history fetch failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch history")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleHistoryEntry serves GET /history/{id} with the stored response document
func (s *Server) handleHistoryEntry(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "History is disabled")
		return
	}
	owner, ok := s.owner(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Owner not resolved")
		return
	}

	rec, err := s.history.GetLookup(r.Context(), owner, mux.Vars(r)["id"])
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Lookup not found")
		return
	}
	if err != nil {
		s.logger.Errorw("history entry fetch failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch history")
		return
	}

	resp := historyEntryResponse{
		HistoryEntry: store.HistoryEntry{
			ID:        rec.ID,
			IOCValue:  rec.IOCValue,
			IOCType:   rec.IOCType,
			Verdict:   rec.Verdict,
			Timestamp: rec.CreatedAt,
			Score:     rec.Score,
		},
		Response: json.RawMessage(rec.ResponseJSON),
	}
	if !json.Valid(resp.Response) {
		resp.Response = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHealth reports store and bus reachability
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	}

	check := func(name string, fn func() error) {
		if err := fn(); err != nil {
			body[name] = err.Error()
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
			return
		}
		body[name] = "ok"
	}
	if s.history != nil {
		check("store", func() error { return s.history.HealthCheck(r.Context()) })
	}
	check("bus", func() error { return s.bus.HealthCheck(r.Context()) })
	if stats, err := s.bus.GetStats(r.Context()); err == nil {
		body["bus_stats"] = stats
	}
	writeJSON(w, status, body)
}
