package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"reelsync/internal/collections"
	"reelsync/internal/identity"
	"reelsync/internal/ratelimit"
	"reelsync/internal/userstore"
	"reelsync/internal/util"
	"reelsync/pkg/domain"
	"reelsync/services/syncd/internal/app"
)

const maxBodyBytes = 64 * 1024

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Resolver       *identity.Resolver
	WriteLimiter   *ratelimit.FixedWindowLimiter
	Gatherer       prometheus.Gatherer
	TrustedProxies *util.TrustedProxies
	DebugEndpoints bool

	HSTSMaxAge            time.Duration
	HSTSIncludeSubdomains bool
}

// Server exposes the user-state API of syncd.
type Server struct {
	app      *app.App
	resolver *identity.Resolver
	limiter  *ratelimit.FixedWindowLimiter
	trusted  *util.TrustedProxies
	security util.SecurityPolicy
	mux      *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("identity resolver required")
	}
	s := &Server{
		app:      cfg.App,
		resolver: cfg.Resolver,
		limiter:  cfg.WriteLimiter,
		trusted:  cfg.TrustedProxies,
		security: util.SecurityPolicy{
			HSTSMaxAge:            cfg.HSTSMaxAge,
			HSTSIncludeSubdomains: cfg.HSTSIncludeSubdomains,
			Trusted:               cfg.TrustedProxies,
			VaryOn:                []string{"Authorization", identity.GuestHeader},
		},
		mux: http.NewServeMux(),
	}
	s.routes(cfg)
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("syncd", s.trusted, util.WithSecurityHeaders(s.security, util.WithCORS(s.mux))))
}

func (s *Server) routes(cfg Config) {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if cfg.Gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if cfg.DebugEndpoints && s.app.Tracker() != nil {
		s.mux.HandleFunc("/debug/calls", s.handleCalls)
		s.mux.HandleFunc("/debug/calls/reset", s.handleCallsReset)
	}

	s.mux.HandleFunc("/api/guests", s.handleNewGuest)
	s.mux.Handle("/api/me", s.withIdentity(s.handleMe))
	s.mux.Handle("/api/me/", s.withIdentity(s.handleMeSubtree))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "activeStores": s.app.ActiveStores()})
}

func (s *Server) handleNewGuest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	// Guests carry no credential, so minting is budgeted per client address.
	if !s.allow(w, r, "guest-mint:"+util.ClientIP(r, s.trusted)) {
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"guestId": identity.NewGuestID()})
}

type identityHandler func(http.ResponseWriter, *http.Request, identity.Identity)

func (s *Server) withIdentity(next identityHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.resolver.Resolve(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With(id.Kind.IdentityField(), id.ID))
		r = r.WithContext(ctx)
		if r.Method != http.MethodGet && !s.allow(w, r, id.ID) {
			return
		}
		next(w, r, id)
	})
}

func (s *Server) allow(w http.ResponseWriter, r *http.Request, key string) bool {
	if s.limiter == nil {
		return true
	}
	ok, err := s.limiter.Allow(r.Context(), key)
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("rate limiter unavailable", "err", err)
	}
	if ok {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, "too many requests")
	return false
}

type stateResponse struct {
	domain.UserState
	SyncStatus domain.SyncStatus `json:"syncStatus"`
}

func newStateResponse(st domain.UserState) stateResponse {
	return stateResponse{UserState: st, SyncStatus: st.SyncStatus}
}

// /api/me
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, id identity.Identity) {
	switch r.Method {
	case http.MethodGet:
		st, _, err := s.app.Sync(r.Context(), id)
		if err != nil && st == nil {
			writeAppError(w, err)
			return
		}
		if err != nil {
			util.LoggerFromContext(r.Context()).Warn("serving cached state after failed sync", "err", err)
		}
		writeJSON(w, http.StatusOK, newStateResponse(st.State()))
	case http.MethodDelete:
		if err := s.app.Forget(r.Context(), id); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

// /api/me/{resource}/...
func (s *Server) handleMeSubtree(w http.ResponseWriter, r *http.Request, id identity.Identity) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/me/"), "/"), "/")
	switch parts[0] {
	case "sync":
		s.handleSync(w, r, id)
		return
	case "logout":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if err := s.resolver.Revoke(r); err != nil {
			util.LoggerFromContext(r.Context()).Warn("token revocation failed", "err", err)
			writeError(w, http.StatusServiceUnavailable, "logout unavailable")
			return
		}
		s.app.Logout(id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
		return
	}

	st, err := s.app.Store(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	switch parts[0] {
	case "watchlist", "liked", "hidden":
		s.handleContentList(w, r, st, parts)
	case "lists":
		s.handleLists(w, r, st, parts[1:])
	case "preferences":
		s.handlePreferences(w, r, st)
	case "notifications":
		s.handleNotifications(w, r, st, parts[1:])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request, id identity.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	st, outcome, err := s.app.Sync(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"outcome":    outcome.String(),
		"syncStatus": st.SyncStatus(),
	})
}

// /api/me/{watchlist|liked|hidden}[/{contentId}]
func (s *Server) handleContentList(w http.ResponseWriter, r *http.Request, st *userstore.Store, parts []string) {
	type ops struct {
		add    func(*http.Request, domain.Content) error
		remove func(*http.Request, int64) error
	}
	table := map[string]ops{
		"watchlist": {
			add:    func(r *http.Request, c domain.Content) error { return st.AddToWatchlist(r.Context(), c) },
			remove: func(r *http.Request, id int64) error { return st.RemoveFromWatchlist(r.Context(), id) },
		},
		"liked": {
			add:    func(r *http.Request, c domain.Content) error { return st.AddLikedMovie(r.Context(), c) },
			remove: func(r *http.Request, id int64) error { return st.RemoveLikedMovie(r.Context(), id) },
		},
		"hidden": {
			add:    func(r *http.Request, c domain.Content) error { return st.AddHiddenMovie(r.Context(), c) },
			remove: func(r *http.Request, id int64) error { return st.RemoveHiddenMovie(r.Context(), id) },
		},
	}
	op := table[parts[0]]

	switch {
	case len(parts) == 1 && r.Method == http.MethodPost:
		var content domain.Content
		if !decodeJSON(w, r, &content) {
			return
		}
		if err := op.add(r, content); err != nil {
			writeStoreError(w, err)
			return
		}
	case len(parts) == 2 && r.Method == http.MethodDelete:
		contentID, ok := parseContentID(w, parts[1])
		if !ok {
			return
		}
		if err := op.remove(r, contentID); err != nil {
			writeStoreError(w, err)
			return
		}
	case len(parts) <= 2:
		methodNotAllowed(w)
		return
	default:
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, newStateResponse(st.State()))
}

// /api/me/lists[/{listId}[/items[/{contentId}]]]
func (s *Server) handleLists(w http.ResponseWriter, r *http.Request, st *userstore.Store, parts []string) {
	switch {
	case len(parts) == 0 || (len(parts) == 1 && parts[0] == ""):
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req collections.CreateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		created, err := st.CreateList(r.Context(), req)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
		return
	case len(parts) == 1:
		switch r.Method {
		case http.MethodPatch:
			var req collections.UpdateRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			if err := st.UpdateList(r.Context(), parts[0], req); err != nil {
				writeStoreError(w, err)
				return
			}
		case http.MethodDelete:
			if err := st.DeleteList(r.Context(), parts[0]); err != nil {
				writeStoreError(w, err)
				return
			}
		default:
			methodNotAllowed(w)
			return
		}
	case len(parts) == 2 && parts[1] == "items":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var content domain.Content
		if !decodeJSON(w, r, &content) {
			return
		}
		if err := st.AddToList(r.Context(), parts[0], content); err != nil {
			writeStoreError(w, err)
			return
		}
	case len(parts) == 3 && parts[1] == "items":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		contentID, ok := parseContentID(w, parts[2])
		if !ok {
			return
		}
		if err := st.RemoveFromList(r.Context(), parts[0], contentID); err != nil {
			writeStoreError(w, err)
			return
		}
	default:
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, st.State().UserCreatedWatchlists)
}

func (s *Server) handlePreferences(w http.ResponseWriter, r *http.Request, st *userstore.Store) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	var patch domain.PreferencesPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	if err := st.UpdatePreferences(r.Context(), patch); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st.State().Preferences)
}

type notificationRequest struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	ContentID int64  `json:"contentId"`
}

// /api/me/notifications[/{id}/read]
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request, st *userstore.Store, parts []string) {
	switch {
	case len(parts) == 0 || (len(parts) == 1 && parts[0] == ""):
		switch r.Method {
		case http.MethodPost:
			var req notificationRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			if strings.TrimSpace(req.Message) == "" {
				writeError(w, http.StatusBadRequest, "message required")
				return
			}
			n, err := st.AddNotification(r.Context(), req.Kind, req.Message, req.ContentID)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, n)
			return
		case http.MethodDelete:
			if err := st.ClearNotifications(r.Context()); err != nil {
				writeStoreError(w, err)
				return
			}
		default:
			methodNotAllowed(w)
			return
		}
	case len(parts) == 2 && parts[1] == "read":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if err := st.MarkNotificationRead(r.Context(), parts[0]); err != nil {
			writeStoreError(w, err)
			return
		}
	default:
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, st.State().Notifications)
}

func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	tracker := s.app.Tracker()
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":   tracker.Stats(),
		"summary": tracker.Summary(),
	})
}

func (s *Server) handleCallsReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.app.Tracker().Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func parseContentID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid content id")
		return 0, false
	}
	return id, true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorCode(w, status, msg, errorCodeFor(status, msg))
}

func writeErrorCode(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func writeAppError(w http.ResponseWriter, err error) {
	if errors.Is(err, app.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "user data unavailable")
		return
	}
	writeStoreError(w, err)
}

func writeStoreError(w http.ResponseWriter, err error) {
	var cerr *collections.Error
	switch {
	case errors.As(err, &cerr):
		status := http.StatusBadRequest
		switch cerr.Reason {
		case collections.ReasonNotFound:
			status = http.StatusNotFound
		case collections.ReasonQuotaExceeded:
			status = http.StatusConflict
		case collections.ReasonSystemCollection:
			status = http.StatusForbidden
		}
		writeErrorCode(w, status, cerr.Error(), "COLLECTION_"+strings.ToUpper(string(cerr.Reason)))
	case errors.Is(err, userstore.ErrInvalidContent):
		writeErrorCode(w, http.StatusBadRequest, err.Error(), "CONTENT_INVALID")
	case errors.Is(err, userstore.ErrInvalidVolume):
		writeErrorCode(w, http.StatusBadRequest, err.Error(), "PREFERENCES_INVALID_VOLUME")
	case errors.Is(err, userstore.ErrNotificationNotFound):
		writeErrorCode(w, http.StatusNotFound, err.Error(), "NOTIFICATION_NOT_FOUND")
	case errors.Is(err, userstore.ErrNoIdentity):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func errorCodeFor(status int, msg string) string {
	switch strings.ToLower(strings.TrimSpace(msg)) {
	case "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case "too many requests":
		return "RATE_LIMITED"
	case "invalid json body", "message required":
		return "REQUEST_INVALID"
	case "invalid content id":
		return "CONTENT_INVALID"
	case "user data unavailable":
		return "STORAGE_UNAVAILABLE"
	case "logout unavailable":
		return "AUTH_REVOCATION_UNAVAILABLE"
	case "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case "not found":
		return "SYSTEM_NOT_FOUND"
	}
	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
