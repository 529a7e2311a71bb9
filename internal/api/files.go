package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"path"

	"go.uber.org/zap"

	"github.com/lanvault/lanvault/internal/access"
	"github.com/lanvault/lanvault/internal/events"
	"github.com/lanvault/lanvault/internal/fault"
	"github.com/lanvault/lanvault/internal/fsops"
	"github.com/lanvault/lanvault/internal/logging"
	"github.com/lanvault/lanvault/internal/metrics"
	"github.com/lanvault/lanvault/internal/sandbox"
)

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	scope, err := s.gate.Authorize(r.Context(), requester(r), r.PathValue("path"), access.OpRead)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	entries, err := fsops.List(scope.Resolver, scope.Rel)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"path":    r.PathValue("path"),
		"entries": entries,
	})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	scope, err := s.gate.Authorize(r.Context(), requester(r), r.PathValue("path"), access.OpRead)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	node, err := fsops.Tree(scope.Resolver, scope.Rel)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	s.sendJSON(w, http.StatusOK, node)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	scope, err := s.gate.Authorize(r.Context(), requester(r), r.PathValue("path"), access.OpRead)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	res, err := fsops.Search(r.Context(), scope.Resolver, scope.Rel, query)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	s.sendJSON(w, http.StatusOK, res)
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	scope, err := s.gate.Authorize(r.Context(), requester(r), r.PathValue("path"), access.OpRead)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	s.serveFile(w, r, scope.Resolver, scope.Rel)
}

// serveFile streams a regular file with Range support.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, resolver *sandbox.Resolver, rel string) {
	f, info, err := fsops.Open(resolver, rel)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	defer f.Close()

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	metrics.RecordDownload(info.Size())
}

func (s *Server) handlePutContent(w http.ResponseWriter, r *http.Request) {
	user := requester(r)
	scope, err := s.gate.Authorize(r.Context(), user, r.PathValue("path"), access.OpWrite)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	_, statErr := fsops.Stat(scope.Resolver, scope.Rel)
	existed := statErr == nil

	n, err := s.writeBody(w, r, scope, scope.Rel)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	op := events.OpCreate
	status := http.StatusCreated
	if existed {
		op = events.OpModify
		status = http.StatusOK
	}
	s.publish(op, scope, user.Name, scope.Rel, n)

	entry, err := fsops.Stat(scope.Resolver, scope.Rel)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, status, entry)
}

// writeBody stores the request body at rel inside scope, replacing any
// existing file. The body is capped at the configured upload limit.
func (s *Server) writeBody(w http.ResponseWriter, r *http.Request, scope *access.Scope, rel string) (int64, error) {
	maxSize := s.config.Uploads.MaxSize
	if r.ContentLength > maxSize {
		return 0, fault.TooLarge(maxSize)
	}

	body := http.MaxBytesReader(w, r.Body, maxSize)
	n, err := fsops.WriteFile(scope.Resolver, rel, body, true)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return 0, fault.TooLarge(maxSize)
		}
		return 0, err
	}
	metrics.RecordUpload(n)
	return n, nil
}

func (s *Server) handleTouch(w http.ResponseWriter, r *http.Request) {
	user := requester(r)
	scope, err := s.gate.Authorize(r.Context(), user, r.PathValue("path"), access.OpWrite)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	if err := fsops.CreateFile(scope.Resolver, scope.Rel); err != nil {
		s.sendError(w, r, err)
		return
	}
	s.publish(events.OpCreate, scope, user.Name, scope.Rel, 0)

	entry, err := fsops.Stat(scope.Resolver, scope.Rel)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleMkdir(w http.ResponseWriter, r *http.Request) {
	user := requester(r)
	scope, err := s.gate.Authorize(r.Context(), user, r.PathValue("path"), access.OpWrite)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	if err := fsops.Mkdir(scope.Resolver, scope.Rel); err != nil {
		s.sendError(w, r, err)
		return
	}
	s.publish(events.OpMkdir, scope, user.Name, scope.Rel, 0)

	entry, err := fsops.Stat(scope.Resolver, scope.Rel)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	user := requester(r)
	scope, err := s.gate.Authorize(r.Context(), user, r.PathValue("path"), access.OpWrite)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	if err := fsops.Delete(scope.Resolver, scope.Rel); err != nil {
		s.sendError(w, r, err)
		return
	}
	s.publish(events.OpDelete, scope, user.Name, scope.Rel, 0)

	logging.WithContext(r.Context()).Info("deleted",
		zap.String("path", r.PathValue("path")),
		zap.String("user", user.Name))

	s.sendJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// transferRequest is the body of move and copy requests. Both paths are
// full partition-qualified request paths.
type transferRequest struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	s.handleTransfer(w, r, true)
}

func (s *Server) handleCopy(w http.ResponseWriter, r *http.Request) {
	s.handleTransfer(w, r, false)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request, move bool) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, r, fault.InvalidArgument("invalid request body"))
		return
	}
	if req.Src == "" || req.Dst == "" {
		s.sendError(w, r, fault.InvalidArgument("src and dst are required"))
		return
	}

	user := requester(r)

	// Moving removes the source, so it needs write access on both sides.
	srcOp := access.OpRead
	if move {
		srcOp = access.OpWrite
	}
	srcScope, err := s.gate.Authorize(r.Context(), user, req.Src, srcOp)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	dstScope, err := s.gate.Authorize(r.Context(), user, req.Dst, access.OpWrite)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	if move {
		err = fsops.Move(srcScope.Resolver, srcScope.Rel, dstScope.Resolver, dstScope.Rel)
	} else {
		err = fsops.Copy(srcScope.Resolver, srcScope.Rel, dstScope.Resolver, dstScope.Rel)
	}
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	op := events.OpCopy
	if move {
		op = events.OpMove
		if srcScope.Partition != dstScope.Partition {
			s.publish(events.OpDelete, srcScope, user.Name, srcScope.Rel, 0)
		}
	}
	s.publish(op, dstScope, user.Name, dstScope.Rel, 0)

	entry, err := fsops.Stat(dstScope.Resolver, dstScope.Rel)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, entry)
}

// zipRequest is the body of archive requests. All paths must live in the
// same partition.
type zipRequest struct {
	Paths []string `json:"paths"`
}

func (s *Server) handleZip(w http.ResponseWriter, r *http.Request) {
	var req zipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, r, fault.InvalidArgument("invalid request body"))
		return
	}
	if len(req.Paths) == 0 {
		s.sendError(w, r, fault.InvalidArgument("no paths to zip"))
		return
	}

	user := requester(r)
	var scope *access.Scope
	rels := make([]string, 0, len(req.Paths))
	for _, p := range req.Paths {
		sc, err := s.gate.Authorize(r.Context(), user, p, access.OpRead)
		if err != nil {
			s.sendError(w, r, err)
			return
		}
		if scope == nil {
			scope = sc
		} else if sc.Partition != scope.Partition {
			s.sendError(w, r, fault.InvalidArgument("all paths must be in the same partition"))
			return
		}
		rels = append(rels, sc.Rel)
	}

	name := "lanvault.zip"
	if len(rels) == 1 {
		name = path.Base("/"+rels[0]) + ".zip"
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)

	if err := fsops.Zip(r.Context(), scope.Resolver, rels, w); err != nil {
		// Paths are resolved before the first byte is written, so errors
		// here are either early (headers not sent) or a dead client.
		logging.WithContext(r.Context()).Warn("zip stream aborted", zap.Error(err))
	}
}
