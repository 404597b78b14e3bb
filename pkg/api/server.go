package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ferrydock/ferry/pkg/credentials"
	"github.com/ferrydock/ferry/pkg/executions"
	"github.com/ferrydock/ferry/pkg/log"
	"github.com/ferrydock/ferry/pkg/metrics"
	"github.com/ferrydock/ferry/pkg/registry"
	"github.com/ferrydock/ferry/pkg/storage"
	"github.com/ferrydock/ferry/pkg/types"
)

type contextKey string

const orgKey contextKey = "org"

// Identity is the authenticated caller attached to request contexts.
type Identity struct {
	OrganizationID string
	Actor          string
}

// Server is the HTTP API server.
type Server struct {
	store     storage.Store
	creds     *credentials.Manager
	execs     *executions.Service
	registry  *registry.Registry
	jwtSecret []byte
	router    chi.Router
}

// NewServer builds the router and handlers.
func NewServer(store storage.Store, creds *credentials.Manager, execs *executions.Service,
	reg *registry.Registry, jwtSecret []byte) *Server {
	s := &Server{
		store:     store,
		creds:     creds,
		execs:     execs,
		registry:  reg,
		jwtSecret: jwtSecret,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/executions", s.handleSubmitExecution)
		r.Get("/executions", s.handleListExecutions)
		r.Get("/executions/{id}", s.handleGetExecution)
		r.Post("/agents", s.handleRegisterAgent)
		r.Get("/clusters", s.handleListClusters)
	})

	s.router = r
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// instrument records request counts and latency.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(ww.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

// tokenClaims is the bearer token payload.
type tokenClaims struct {
	OrganizationID string `json:"org_id"`
	jwt.RegisteredClaims
}

// MintToken issues a short-lived bearer token for an organization.
func MintToken(secret []byte, orgID string, ttl time.Duration) (string, error) {
	claims := tokenClaims{
		OrganizationID: orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// authenticate resolves the caller's organization from an API key or a
// bearer token. Requests with neither, or with bad credentials, get 401.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.resolveIdentity(r)
		if err != nil {
			metrics.AuthFailures.WithLabelValues("http").Inc()
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		ctx := context.WithValue(r.Context(), orgKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) resolveIdentity(r *http.Request) (*Identity, error) {
	if key := r.Header.Get("X-API-Key"); key != "" {
		id, err := s.creds.VerifyAPIKey(r.Context(), key)
		if err != nil {
			return nil, err
		}
		return &Identity{OrganizationID: id.OrganizationID, Actor: "key:" + id.KeyID}, nil
	}

	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		claims := &tokenClaims{}
		token, err := jwt.ParseWithClaims(auth[len(prefix):], claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.jwtSecret, nil
		})
		if err != nil || !token.Valid || claims.OrganizationID == "" {
			return nil, types.ErrNotAuthenticated
		}
		return &Identity{OrganizationID: claims.OrganizationID, Actor: "token"}, nil
	}

	return nil, types.ErrNotAuthenticated
}

func identityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(orgKey).(*Identity)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Failed to encode response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps domain errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, types.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, types.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, "queue full, retry later")
	case errors.Is(err, types.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	default:
		log.Errorf("Request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// audit records a mutating operation. Failures are logged, not fatal.
func (s *Server) audit(ctx context.Context, id *Identity, action, resource string, details any) {
	raw, _ := json.Marshal(details)
	entry := &types.AuditEntry{
		ID:             types.NewID("aud"),
		OrganizationID: id.OrganizationID,
		Actor:          id.Actor,
		Action:         action,
		Resource:       resource,
		Details:        raw,
		CreatedAt:      time.Now(),
	}
	if err := s.store.InsertAudit(ctx, entry); err != nil {
		log.Errorf("Failed to write audit entry", err)
	}
}
