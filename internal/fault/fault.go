// Package fault defines the domain error taxonomy shared by the path
// resolver, the authorization gate, file operations and the upload
// coordinator.
//
// These are business errors (a path escapes its root, a share expired, a
// destination already exists) as opposed to infrastructure errors. The HTTP
// layer translates Kind to a status code; raw OS error text is retained only
// as a wrapped cause for server-side logging and never reaches a client
// through this package.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the error category.
type Kind int

const (
	// KindPathViolation indicates a request path escapes its root
	// (traversal, absolute path, symlink escape).
	KindPathViolation Kind = iota

	// KindNotFound indicates the resolved path does not exist, or a share
	// token is unknown.
	KindNotFound

	// KindExpired indicates a share token exists but is past its expiry.
	// Surfaced to clients identically to KindNotFound so a token's past
	// existence is never confirmed.
	KindExpired

	// KindForbidden indicates the principal lacks permission for the
	// requested operation.
	KindForbidden

	// KindAlreadyExists indicates a create/move/copy destination collision.
	KindAlreadyExists

	// KindNotADirectory indicates an operation expected a directory.
	KindNotADirectory

	// KindIsADirectory indicates an operation expected a file.
	KindIsADirectory

	// KindShareIsFile indicates a listing was attempted against a share
	// whose target is a single file.
	KindShareIsFile

	// KindIncompleteUpload indicates finalize was called before all chunks
	// were received. The session stays alive; the call is retryable.
	KindIncompleteUpload

	// KindInvalidArgument indicates invalid parameters were provided
	// (bad leaf name, negative chunk index, zero-size upload).
	KindInvalidArgument

	// KindTooLarge indicates an upload exceeds the configured size limit.
	KindTooLarge

	// KindStorageIO indicates an underlying OS failure. The cause is
	// wrapped for logs; clients see a generic message.
	KindStorageIO
)

// Error is a categorized domain error.
type Error struct {
	Kind    Kind
	Message string

	// Path is the request-relative path the error concerns, if any.
	// Never a host filesystem path.
	Path string

	cause error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return e.Message + ": " + e.Path
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// KindOf extracts the Kind from an error chain. The second return value
// reports whether the chain contains a fault error at all.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// Is reports whether the error chain contains a fault error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// PathViolation reports a request path that escapes its root. The message is
// deliberately generic; details about the real filesystem layout stay out of
// client responses.
func PathViolation(requestPath string) *Error {
	return &Error{Kind: KindPathViolation, Message: "invalid path", Path: requestPath}
}

// NotFound reports a missing path or unknown share token.
func NotFound(requestPath string) *Error {
	return &Error{Kind: KindNotFound, Message: "not found", Path: requestPath}
}

// Expired reports a dead share token. The rendered error is byte-identical
// to NotFound for the same token, so a client cannot learn that the token
// ever existed; the distinct kind is for server-side logs and metrics only.
func Expired(token string) *Error {
	return &Error{Kind: KindExpired, Message: "not found", Path: token}
}

// Forbidden reports a denied operation.
func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

// AlreadyExists reports a destination collision.
func AlreadyExists(requestPath string) *Error {
	return &Error{Kind: KindAlreadyExists, Message: "target already exists", Path: requestPath}
}

// NotADirectory reports an operation-type mismatch on a file.
func NotADirectory(requestPath string) *Error {
	return &Error{Kind: KindNotADirectory, Message: "not a directory", Path: requestPath}
}

// IsADirectory reports an operation-type mismatch on a directory.
func IsADirectory(requestPath string) *Error {
	return &Error{Kind: KindIsADirectory, Message: "is a directory", Path: requestPath}
}

// ShareIsFile reports a listing attempt against a single-file share.
func ShareIsFile() *Error {
	return &Error{Kind: KindShareIsFile, Message: "share targets a single file"}
}

// IncompleteUpload reports a finalize attempt with missing chunks.
func IncompleteUpload(received, total int) *Error {
	return &Error{
		Kind:    KindIncompleteUpload,
		Message: fmt.Sprintf("incomplete upload: received %d/%d chunks", received, total),
	}
}

// InvalidArgument reports bad request parameters.
func InvalidArgument(message string) *Error {
	return &Error{Kind: KindInvalidArgument, Message: message}
}

// TooLarge reports an upload exceeding the size limit.
func TooLarge(limit int64) *Error {
	return &Error{Kind: KindTooLarge, Message: fmt.Sprintf("upload too large: limit %d bytes", limit)}
}

// StorageIO wraps an OS-level failure. The cause stays server-side.
func StorageIO(cause error) *Error {
	return &Error{Kind: KindStorageIO, Message: "storage error", cause: cause}
}
