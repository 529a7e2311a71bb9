package api

import (
	"encoding/json"
	"net/http"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/lanvault/lanvault/internal/access"
	"github.com/lanvault/lanvault/internal/events"
	"github.com/lanvault/lanvault/internal/fault"
	"github.com/lanvault/lanvault/internal/fsops"
	"github.com/lanvault/lanvault/internal/logging"
	"github.com/lanvault/lanvault/internal/share"
)

// shareRequest creates a share link for a partition-qualified path.
type shareRequest struct {
	Path       string `json:"path"`
	Permission string `json:"permission"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

// shareResponse is a share record plus the link a guest can open.
type shareResponse struct {
	share.Record
	URL string `json:"url"`
}

func (s *Server) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, r, fault.InvalidArgument("invalid request body"))
		return
	}

	perm := share.Permission(req.Permission)
	if req.Permission == "" {
		perm = share.PermissionRead
	}
	if !perm.Valid() {
		s.sendError(w, r, fault.InvalidArgument("permission must be read or read_write"))
		return
	}
	if req.TTLSeconds < 0 {
		s.sendError(w, r, fault.InvalidArgument("ttl_seconds cannot be negative"))
		return
	}

	user := requester(r)
	partition, rel, err := s.gate.AuthorizeShareCreate(r.Context(), user, req.Path, perm)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	rec, err := s.gate.Shares().Create(r.Context(), share.CreateParams{
		Owner:      user.Name,
		Partition:  partition,
		Path:       rel,
		Permission: perm,
		TTL:        time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	s.sendJSON(w, http.StatusCreated, shareResponse{
		Record: rec,
		URL:    s.shareURL(r, rec.Token),
	})
}

// shareURL renders the guest-facing link for a token. The configured base
// URL wins; otherwise the link is derived from the request.
func (s *Server) shareURL(r *http.Request, token string) string {
	base := s.config.Server.BaseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return base + "/api/v1/share/" + token
}

func (s *Server) handleListShares(w http.ResponseWriter, r *http.Request) {
	records, err := s.gate.Shares().ListByOwner(r.Context(), requester(r).Name)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"shares": records})
}

func (s *Server) handleRevokeShare(w http.ResponseWriter, r *http.Request) {
	user := requester(r)
	token := r.PathValue("id")
	if err := s.gate.Shares().Revoke(r.Context(), token, user.Name, user.SharedWrite); err != nil {
		s.sendError(w, r, err)
		return
	}

	logging.WithContext(r.Context()).Info("share revoked",
		zap.String("token", token),
		zap.String("user", user.Name))

	s.sendJSON(w, http.StatusOK, map[string]any{"revoked": true})
}

// ─── Guest endpoints ────────────────────────────────────────────────────────

// shareInfoResponse describes a share to a guest without exposing where the
// target lives inside the vault.
type shareInfoResponse struct {
	Name       string           `json:"name"`
	IsDir      bool             `json:"is_dir"`
	Size       int64            `json:"size,omitempty"`
	Permission share.Permission `json:"permission"`
	ExpiresAt  *time.Time       `json:"expires_at,omitempty"`
}

func (s *Server) handleShareInfo(w http.ResponseWriter, r *http.Request) {
	scope, rec, err := s.gate.AuthorizeShare(r.Context(), r.PathValue("token"), "", access.OpRead)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	entry, err := fsops.Stat(scope.Resolver, scope.Rel)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	resp := shareInfoResponse{
		Name:       path.Base("/" + rec.Path),
		IsDir:      entry.IsDir,
		Permission: rec.Permission,
	}
	if !entry.IsDir {
		resp.Size = entry.Size
	}
	if !rec.ExpiresAt.IsZero() {
		resp.ExpiresAt = &rec.ExpiresAt
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleShareList(w http.ResponseWriter, r *http.Request) {
	sub := r.URL.Query().Get("path")
	scope, _, err := s.gate.AuthorizeShare(r.Context(), r.PathValue("token"), sub, access.OpRead)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	if scope.FileShare {
		s.sendError(w, r, fault.ShareIsFile())
		return
	}

	entries, err := fsops.List(scope.Resolver, scope.Rel)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{
		"path":    sub,
		"entries": entries,
	})
}

func (s *Server) handleShareContent(w http.ResponseWriter, r *http.Request) {
	scope, _, err := s.gate.AuthorizeShare(r.Context(), r.PathValue("token"),
		r.URL.Query().Get("path"), access.OpRead)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	s.serveFile(w, r, scope.Resolver, scope.Rel)
}

func (s *Server) handleShareZip(w http.ResponseWriter, r *http.Request) {
	scope, rec, err := s.gate.AuthorizeShare(r.Context(), r.PathValue("token"),
		r.URL.Query().Get("path"), access.OpRead)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	name := path.Base("/" + rec.Path)
	if scope.Rel != "" && !scope.FileShare {
		name = path.Base("/" + scope.Rel)
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.zip"`)

	if err := fsops.Zip(r.Context(), scope.Resolver, []string{scope.Rel}, w); err != nil {
		logging.WithContext(r.Context()).Warn("share zip stream aborted", zap.Error(err))
	}
}

// handleShareUpload accepts a single multipart file into a writable share.
// Guests have no chunked sessions; one request, one file.
func (s *Server) handleShareUpload(w http.ResponseWriter, r *http.Request) {
	scope, rec, err := s.gate.AuthorizeShare(r.Context(), r.PathValue("token"),
		r.URL.Query().Get("path"), access.OpWrite)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	entry, err := s.storeMultipart(w, r, scope, scope.Rel)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	// Events carry partition-relative paths; rejoin the share target.
	s.publish(events.OpCreate, scope, rec.Owner, path.Join(rec.Path, entry.Path), entry.Size)

	logging.WithContext(r.Context()).Info("guest upload",
		zap.String("token", rec.Token),
		zap.String("name", entry.Name),
		zap.Int64("size", entry.Size))

	s.sendJSON(w, http.StatusCreated, entry)
}
