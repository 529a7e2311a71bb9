// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/lanvault/lanvault/internal/access"
	"github.com/lanvault/lanvault/internal/auth"
	"github.com/lanvault/lanvault/internal/config"
	"github.com/lanvault/lanvault/internal/events"
	"github.com/lanvault/lanvault/internal/fault"
	"github.com/lanvault/lanvault/internal/logging"
	"github.com/lanvault/lanvault/internal/metrics"
	"github.com/lanvault/lanvault/internal/upload"
)

// Server is the HTTP server.
type Server struct {
	config      *config.Config
	auth        *auth.Auth
	gate        *access.Gate
	uploads     *upload.Coordinator
	broadcaster *events.Broadcaster
}

// NewServer creates a new server.
func NewServer(
	cfg *config.Config,
	authHandler *auth.Auth,
	gate *access.Gate,
	uploads *upload.Coordinator,
	broadcaster *events.Broadcaster,
) *Server {
	return &Server{
		config:      cfg,
		auth:        authHandler,
		gate:        gate,
		uploads:     uploads,
		broadcaster: broadcaster,
	}
}

// Handler returns the HTTP handler with auth, logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/token", s.auth.HandleLogin)

	// Public share token endpoints (no auth; the token is the credential)
	mux.HandleFunc("GET /api/v1/share/{token}/info", s.handleShareInfo)
	mux.HandleFunc("GET /api/v1/share/{token}/list", s.handleShareList)
	mux.HandleFunc("GET /api/v1/share/{token}/content", s.handleShareContent)
	mux.HandleFunc("GET /api/v1/share/{token}/zip", s.handleShareZip)
	mux.HandleFunc("POST /api/v1/share/{token}/upload", s.handleShareUpload)

	// Protected endpoints
	protected := http.NewServeMux()

	// Read endpoints
	protected.HandleFunc("GET /api/v1/list/{path...}", s.handleList)
	protected.HandleFunc("GET /api/v1/tree/{path...}", s.handleTree)
	protected.HandleFunc("GET /api/v1/search/{path...}", s.handleSearch)
	protected.HandleFunc("GET /api/v1/content/{path...}", s.handleContent)

	// Write endpoints
	protected.HandleFunc("PUT /api/v1/content/{path...}", s.handlePutContent)
	protected.HandleFunc("POST /api/v1/touch/{path...}", s.handleTouch)
	protected.HandleFunc("POST /api/v1/mkdir/{path...}", s.handleMkdir)
	protected.HandleFunc("DELETE /api/v1/files/{path...}", s.handleDelete)
	protected.HandleFunc("POST /api/v1/move", s.handleMove)
	protected.HandleFunc("POST /api/v1/copy", s.handleCopy)
	protected.HandleFunc("POST /api/v1/zip", s.handleZip)

	// Upload endpoints
	protected.HandleFunc("POST /api/v1/upload/{path...}", s.handleUpload)
	protected.HandleFunc("POST /api/v1/uploads", s.handleUploadInit)
	protected.HandleFunc("PUT /api/v1/uploads/{id}/chunks/{index}", s.handleUploadChunk)
	protected.HandleFunc("GET /api/v1/uploads/{id}", s.handleUploadStatus)
	protected.HandleFunc("POST /api/v1/uploads/{id}/complete", s.handleUploadComplete)
	protected.HandleFunc("DELETE /api/v1/uploads/{id}", s.handleUploadAbort)

	// Share management endpoints
	protected.HandleFunc("POST /api/v1/shares", s.handleCreateShare)
	protected.HandleFunc("GET /api/v1/shares", s.handleListShares)
	protected.HandleFunc("DELETE /api/v1/shares/{id}", s.handleRevokeShare)

	// SSE endpoint
	protected.HandleFunc("GET /api/v1/events", s.handleEvents)

	mux.Handle("/api/v1/", s.auth.Middleware(protected))

	return metrics.Middleware(logging.Middleware(mux))
}

// requester returns the authenticated principal for a protected request.
func requester(r *http.Request) access.User {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		return access.User{}
	}
	return access.User{Name: claims.Username, SharedWrite: claims.SharedWrite}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": "1.0"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, r, fault.StorageIO(fmt.Errorf("streaming not supported")))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe(requester(r).Name)
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Op, data)
			flusher.Flush()
		}
	}
}

// publish broadcasts a change event scoped to the partition it happened in.
func (s *Server) publish(op string, scope *access.Scope, owner, rel string, size int64) {
	if s.broadcaster == nil {
		return
	}
	if scope.Partition == access.PartitionPrivate {
		s.broadcaster.Publish(events.Private(op, owner, rel, size))
		return
	}
	s.broadcaster.Publish(events.Shared(op, rel, size))
}

// statusOf maps a domain error to an HTTP status code.
func statusOf(err error) int {
	kind, ok := fault.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case fault.KindPathViolation, fault.KindNotADirectory, fault.KindIsADirectory,
		fault.KindShareIsFile, fault.KindInvalidArgument:
		return http.StatusBadRequest
	case fault.KindNotFound, fault.KindExpired:
		return http.StatusNotFound
	case fault.KindForbidden:
		return http.StatusForbidden
	case fault.KindAlreadyExists, fault.KindIncompleteUpload:
		return http.StatusConflict
	case fault.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// sendError writes the JSON error response for err. Internal errors are
// logged with their cause and surfaced with a generic message.
func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	message := err.Error()

	if fault.Is(err, fault.KindPathViolation) {
		metrics.RecordPathViolation()
	}
	if code == http.StatusInternalServerError {
		logging.WithContext(r.Context()).Error("request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		message = "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": message,
		"code":  code,
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
