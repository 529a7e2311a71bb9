// Package upload coordinates chunked uploads. A session stages chunks in a
// preallocated part file until every chunk has arrived, then the assembled
// file is published into the vault in one step. Partial uploads are never
// visible at their destination.
package upload

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lanvault/lanvault/internal/fault"
	"github.com/lanvault/lanvault/internal/fsops"
	"github.com/lanvault/lanvault/internal/logging"
	"github.com/lanvault/lanvault/internal/metrics"
	"github.com/lanvault/lanvault/internal/sandbox"
)

// DefaultChunkSize is the chunk size handed to clients at init.
const DefaultChunkSize = 5 * 1024 * 1024 // 5 MB

// Status is a session's lifecycle state.
type Status string

const (
	// StatusReceiving accepts chunks and finalize attempts.
	StatusReceiving Status = "receiving"

	// StatusFinalized is terminal: the file was published.
	StatusFinalized Status = "finalized"

	// StatusAbandoned is terminal: aborted, swept, or a fatal finalize.
	StatusAbandoned Status = "abandoned"
)

// session is the coordinator's record of one chunked upload. Each session
// has its own mutex so concurrent chunk writes to different sessions never
// contend.
type session struct {
	mu sync.Mutex

	id          string
	owner       string
	targetPath  string
	size        int64
	chunkSize   int64
	totalChunks int
	received    []bool
	nReceived   int
	status      Status
	lastActive  time.Time
	createdAt   time.Time
}

// Info is a read-only snapshot of a session.
type Info struct {
	ID             string    `json:"id"`
	TargetPath     string    `json:"target_path"`
	Size           int64     `json:"size"`
	ChunkSize      int64     `json:"chunk_size"`
	TotalChunks    int       `json:"total_chunks"`
	ReceivedChunks int       `json:"received_chunks"`
	Missing        []int     `json:"missing,omitempty"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// Coordinator manages chunked upload sessions and their staging files.
// Sessions live in memory; a server restart abandons anything in flight,
// which only costs the client a re-upload.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[string]*session

	stagingDir  string
	chunkSize   int64
	maxSize     int64
	idleTimeout time.Duration
	now         func() time.Time
}

// NewCoordinator creates a Coordinator staging under dir. A chunkSize of
// zero falls back to DefaultChunkSize.
func NewCoordinator(dir string, chunkSize, maxSize int64, idleTimeout time.Duration) (*Coordinator, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Coordinator{
		sessions:    make(map[string]*session),
		stagingDir:  dir,
		chunkSize:   chunkSize,
		maxSize:     maxSize,
		idleTimeout: idleTimeout,
		now:         time.Now,
	}, nil
}

func (c *Coordinator) partPath(id string) string {
	return filepath.Join(c.stagingDir, id+".part")
}

// Init opens an upload session for owner targeting targetPath (an
// authorization-layer request path, re-checked at finalize). The target
// name is validated now so a doomed upload fails before any bytes move.
func (c *Coordinator) Init(ctx context.Context, owner, targetPath string, size int64) (Info, error) {
	if size <= 0 {
		return Info{}, fault.InvalidArgument("file size must be positive")
	}
	if size > c.maxSize {
		return Info{}, fault.TooLarge(c.maxSize)
	}
	if err := sandbox.CheckName(filepath.Base(targetPath)); err != nil {
		return Info{}, err
	}

	id, err := newSessionID()
	if err != nil {
		return Info{}, fault.StorageIO(err)
	}

	// Preallocate the part file so chunk writes are plain pwrites.
	f, err := os.Create(c.partPath(id))
	if err != nil {
		return Info{}, fault.StorageIO(err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(c.partPath(id))
		return Info{}, fault.StorageIO(err)
	}
	f.Close()

	totalChunks := int((size + c.chunkSize - 1) / c.chunkSize)
	now := c.now()
	s := &session{
		id:          id,
		owner:       owner,
		targetPath:  targetPath,
		size:        size,
		chunkSize:   c.chunkSize,
		totalChunks: totalChunks,
		received:    make([]bool, totalChunks),
		status:      StatusReceiving,
		lastActive:  now,
		createdAt:   now,
	}

	c.mu.Lock()
	c.sessions[id] = s
	c.mu.Unlock()
	c.publishActiveCount()

	logging.WithContext(ctx).Info("chunked upload initiated",
		zap.String("upload_id", id),
		zap.String("target", targetPath),
		zap.Int64("size", size),
		zap.Int("chunks", totalChunks))

	return s.snapshot(), nil
}

// lookup finds a session owned by owner. Sessions belonging to someone else
// are reported as missing, not forbidden.
func (c *Coordinator) lookup(owner, id string) (*session, error) {
	c.mu.Lock()
	s, ok := c.sessions[id]
	c.mu.Unlock()
	if !ok || s.owner != owner {
		return nil, fault.NotFound(id)
	}
	return s, nil
}

// PutChunk stores one chunk. Chunks may arrive in any order and may be
// retried; a re-sent chunk overwrites its slot.
func (c *Coordinator) PutChunk(ctx context.Context, owner, id string, index int, body io.Reader) error {
	s, err := c.lookup(owner, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusReceiving {
		return fault.InvalidArgument("upload is not active")
	}
	if index < 0 || index >= s.totalChunks {
		return fault.InvalidArgument(fmt.Sprintf("chunk index %d out of range [0,%d)", index, s.totalChunks))
	}

	offset := int64(index) * s.chunkSize
	expected := s.chunkSize
	if index == s.totalChunks-1 {
		expected = s.size - offset
	}

	f, err := os.OpenFile(c.partPath(id), os.O_WRONLY, 0o644)
	if err != nil {
		return fault.StorageIO(err)
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fault.StorageIO(err)
	}

	n, err := io.Copy(f, io.LimitReader(body, expected+1))
	if err != nil {
		return fault.StorageIO(err)
	}
	switch {
	case n > expected:
		return fault.InvalidArgument("chunk data exceeds expected size")
	case n < expected:
		return fault.InvalidArgument(fmt.Sprintf("chunk %d short: got %d bytes, want %d", index, n, expected))
	}

	if !s.received[index] {
		s.received[index] = true
		s.nReceived++
	}
	s.lastActive = c.now()
	metrics.RecordUpload(n)
	return nil
}

// Status returns a snapshot of the session.
func (c *Coordinator) Status(ctx context.Context, owner, id string) (Info, error) {
	s, err := c.lookup(owner, id)
	if err != nil {
		return Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), nil
}

// Finalize publishes the assembled file to rel inside scope. The caller
// must have re-authorized the target before calling.
//
// With chunks missing the call fails with IncompleteUpload and the session
// stays alive. A destination collision abandons the session: its name was
// taken, re-sending the same bytes cannot fix that. Other publish errors
// leave the session alive for a retry.
func (c *Coordinator) Finalize(ctx context.Context, owner, id string, scope *sandbox.Resolver, rel string) (fsops.Entry, error) {
	s, err := c.lookup(owner, id)
	if err != nil {
		return fsops.Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusReceiving {
		return fsops.Entry{}, fault.InvalidArgument("upload is not active")
	}
	if s.nReceived != s.totalChunks {
		return fsops.Entry{}, fault.IncompleteUpload(s.nReceived, s.totalChunks)
	}

	f, err := os.Open(c.partPath(id))
	if err != nil {
		return fsops.Entry{}, fault.StorageIO(err)
	}
	_, err = fsops.WriteFile(scope, rel, f, false)
	f.Close()
	if err != nil {
		if fault.Is(err, fault.KindAlreadyExists) {
			c.finish(s, StatusAbandoned, "aborted by destination collision")
			metrics.RecordUploadSessionOutcome("aborted")
		}
		return fsops.Entry{}, err
	}

	c.finish(s, StatusFinalized, "")
	metrics.RecordUploadSessionOutcome("finalized")

	logging.WithContext(ctx).Info("chunked upload finalized",
		zap.String("upload_id", id),
		zap.String("target", s.targetPath),
		zap.Int64("size", s.size))

	return fsops.Stat(scope, rel)
}

// Abort abandons the session and discards its staged data.
func (c *Coordinator) Abort(ctx context.Context, owner, id string) error {
	s, err := c.lookup(owner, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusReceiving {
		return fault.InvalidArgument("upload is not active")
	}
	c.finish(s, StatusAbandoned, "aborted by client")
	metrics.RecordUploadSessionOutcome("aborted")
	return nil
}

// finish moves a session to a terminal state and discards the part file.
// Caller holds s.mu.
func (c *Coordinator) finish(s *session, status Status, reason string) {
	s.status = status
	os.Remove(c.partPath(s.id))
	c.publishActiveCount()
	if reason != "" {
		logging.L().Info("chunked upload abandoned",
			zap.String("upload_id", s.id), zap.String("reason", reason))
	}
}

// StartSweeper launches the background goroutine that abandons idle
// sessions and drops terminal ones, until ctx is cancelled.
func (c *Coordinator) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

// Sweep abandons sessions idle past the timeout and forgets terminal
// sessions past it.
func (c *Coordinator) Sweep() {
	now := c.now()

	c.mu.Lock()
	stale := make([]*session, 0)
	for _, s := range c.sessions {
		stale = append(stale, s)
	}
	c.mu.Unlock()

	for _, s := range stale {
		s.mu.Lock()
		idle := now.Sub(s.lastActive) > c.idleTimeout
		switch {
		case s.status == StatusReceiving && idle:
			c.finish(s, StatusAbandoned, "idle timeout")
			metrics.RecordUploadSessionOutcome("swept")
			s.mu.Unlock()
		case s.status != StatusReceiving && idle:
			s.mu.Unlock()
			c.mu.Lock()
			delete(c.sessions, s.id)
			c.mu.Unlock()
		default:
			s.mu.Unlock()
		}
	}
	c.publishActiveCount()
}

func (c *Coordinator) publishActiveCount() {
	c.mu.Lock()
	var active int64
	for _, s := range c.sessions {
		if s.status == StatusReceiving {
			active++
		}
	}
	c.mu.Unlock()
	metrics.SetUploadSessionsActive(active)
}

// snapshot builds an Info. Caller holds s.mu (or the session is fresh).
func (s *session) snapshot() Info {
	info := Info{
		ID:             s.id,
		TargetPath:     s.targetPath,
		Size:           s.size,
		ChunkSize:      s.chunkSize,
		TotalChunks:    s.totalChunks,
		ReceivedChunks: s.nReceived,
		Status:         s.status,
		CreatedAt:      s.createdAt,
	}
	for i, got := range s.received {
		if !got {
			info.Missing = append(info.Missing, i)
		}
	}
	return info
}

func newSessionID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
