package api

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"

	"go.uber.org/zap"

	"github.com/lanvault/lanvault/internal/access"
	"github.com/lanvault/lanvault/internal/events"
	"github.com/lanvault/lanvault/internal/fault"
	"github.com/lanvault/lanvault/internal/fsops"
	"github.com/lanvault/lanvault/internal/logging"
	"github.com/lanvault/lanvault/internal/metrics"
	"github.com/lanvault/lanvault/internal/sandbox"
)

// handleUpload stores a single multipart file into the directory named by
// the request path. Existing files are never overwritten.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	user := requester(r)
	scope, err := s.gate.Authorize(r.Context(), user, r.PathValue("path"), access.OpWrite)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	entry, err := s.storeMultipart(w, r, scope, scope.Rel)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.publish(events.OpCreate, scope, user.Name, entry.Path, entry.Size)

	logging.WithContext(r.Context()).Info("file uploaded",
		zap.String("path", entry.Path),
		zap.Int64("size", entry.Size),
		zap.String("user", user.Name))

	s.sendJSON(w, http.StatusCreated, entry)
}

// storeMultipart reads the first file part of a multipart request and writes
// it under dirRel inside scope, named after the part's file name.
func (s *Server) storeMultipart(w http.ResponseWriter, r *http.Request, scope *access.Scope, dirRel string) (fsops.Entry, error) {
	maxSize := s.config.Uploads.MaxSize
	if r.ContentLength > maxSize {
		return fsops.Entry{}, fault.TooLarge(maxSize)
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	mr, err := r.MultipartReader()
	if err != nil {
		return fsops.Entry{}, fault.InvalidArgument("multipart body required")
	}

	part, err := nextFilePart(mr)
	if err != nil {
		return fsops.Entry{}, err
	}
	defer part.Close()

	name := path.Base(part.FileName())
	if err := sandbox.CheckName(name); err != nil {
		return fsops.Entry{}, err
	}

	rel := path.Join(dirRel, name)
	n, err := fsops.WriteFile(scope.Resolver, rel, part, false)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fsops.Entry{}, fault.TooLarge(maxSize)
		}
		return fsops.Entry{}, err
	}
	metrics.RecordUpload(n)

	return fsops.Stat(scope.Resolver, rel)
}

// nextFilePart advances to the first part carrying a file.
func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, fault.InvalidArgument("no file in multipart body")
		}
		if part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}

// uploadInitRequest starts a chunked upload session. Path is the full
// partition-qualified destination, size the total file size in bytes.
type uploadInitRequest struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

func (s *Server) handleUploadInit(w http.ResponseWriter, r *http.Request) {
	var req uploadInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, r, fault.InvalidArgument("invalid request body"))
		return
	}

	user := requester(r)

	// The destination is checked again at completion; checking here stops
	// clients from streaming chunks they could never publish.
	scope, err := s.gate.Authorize(r.Context(), user, req.Path, access.OpWrite)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	if _, err := fsops.Stat(scope.Resolver, scope.Rel); err == nil {
		s.sendError(w, r, fault.AlreadyExists(req.Path))
		return
	}

	info, err := s.uploads.Init(r.Context(), user.Name, req.Path, req.Size)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, info)
}

func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		s.sendError(w, r, fault.InvalidArgument("invalid chunk index"))
		return
	}

	user := requester(r)
	if err := s.uploads.PutChunk(r.Context(), user.Name, r.PathValue("id"), index, r.Body); err != nil {
		s.sendError(w, r, err)
		return
	}

	info, err := s.uploads.Status(r.Context(), user.Name, r.PathValue("id"))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, info)
}

func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	info, err := s.uploads.Status(r.Context(), requester(r).Name, r.PathValue("id"))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, info)
}

func (s *Server) handleUploadComplete(w http.ResponseWriter, r *http.Request) {
	user := requester(r)

	info, err := s.uploads.Status(r.Context(), user.Name, r.PathValue("id"))
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	scope, err := s.gate.Authorize(r.Context(), user, info.TargetPath, access.OpWrite)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	entry, err := s.uploads.Finalize(r.Context(), user.Name, info.ID, scope.Resolver, scope.Rel)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.publish(events.OpCreate, scope, user.Name, entry.Path, entry.Size)

	s.sendJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleUploadAbort(w http.ResponseWriter, r *http.Request) {
	if err := s.uploads.Abort(r.Context(), requester(r).Name, r.PathValue("id")); err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"aborted": true})
}
