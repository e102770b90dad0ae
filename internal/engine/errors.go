package engine

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned (or wrapped) when a task was cancelled rather
// than having failed. Cancellation is an explicit state, not an error
// condition callers need to distinguish by string matching.
var ErrCancelled = errors.New("task cancelled")

// NetworkError wraps a transport-level failure: timeout, DNS, TLS, or
// connection reset. All network errors are retryable.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error during %s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError wraps an HTTP response whose status is anything other than
// 200 OK. 408, 429 and 5xx are retryable; every other status is fatal
// for the segment that produced it.
type HTTPError struct {
	Status int
	URL    string
}

func (e *HTTPError) Error() string { return fmt.Sprintf("http %d fetching %s", e.Status, e.URL) }

// Retryable reports whether this status code should be retried under
// the segment worker's retry policy (spec §4.5).
func (e *HTTPError) Retryable() bool {
	if e.Status == 429 || e.Status == 408 {
		return true
	}
	return e.Status >= 500
}

// MalformedPlaylist is returned when the manifest text itself cannot be
// parsed: missing #EXTM3U, a truncated EXTINF, an unparseable duration,
// or an unsupported #EXT-X-KEY METHOD.
type MalformedPlaylist struct {
	Reason string
}

func (e *MalformedPlaylist) Error() string { return "malformed playlist: " + e.Reason }

// ErrMasterPlaylistNotSupported is returned when the manifest contains
// #EXT-X-STREAM-INF entries. The caller must pre-select a variant and
// supply its media playlist URL instead.
var ErrMasterPlaylistNotSupported = errors.New("master playlist not supported: caller must select a variant")

// ErrLivePlaylistNotSupported is returned when the manifest has no
// #EXT-X-ENDLIST tag. Live/DVR sliding-window playlists are out of
// scope.
var ErrLivePlaylistNotSupported = errors.New("live playlist not supported: missing #EXT-X-ENDLIST")

// DecryptError wraps an AES-128-CBC decryption failure.
type DecryptErrorKind int

const (
	BadPadding DecryptErrorKind = iota
	BadKeyLength
)

type DecryptError struct {
	Kind DecryptErrorKind
}

func (e *DecryptError) Error() string {
	switch e.Kind {
	case BadKeyLength:
		return "decrypt error: bad key length"
	default:
		return "decrypt error: bad padding"
	}
}

// ValidationError is returned when a downloaded (and, if encrypted,
// decrypted) segment fails the MPEG-TS/fMP4 sniff before it is written. Treated like a network error for
// retry purposes — it usually means a truncated body.
type ValidationError struct {
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("segment %d failed validation: %s", e.Index, e.Reason)
}

// JournalCorruption is logged, never returned to a caller: affected
// entries are discarded and the segments they named revert to Pending.
type JournalCorruption struct {
	Line string
	Err  error
}

func (e *JournalCorruption) Error() string {
	return fmt.Sprintf("journal corruption on line %q: %v", e.Line, e.Err)
}

// MuxerError wraps a non-zero ffmpeg exit or an empty/missing output
// file. It is deterministic and never retried.
type MuxerError struct {
	ExitCode  int
	StderrTail string
}

func (e *MuxerError) Error() string {
	return fmt.Sprintf("muxer failed with exit code %d: %s", e.ExitCode, e.StderrTail)
}

// retryable classifies an error against the segment retry policy of
// spec §4.5: network errors, 5xx/429/408, validation failures, and a
// bad-padding decrypt error (which usually means a truncated body) are
// retried; every other error is fatal for that segment.
func retryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return true
	}
	var decErr *DecryptError
	if errors.As(err, &decErr) {
		return decErr.Kind == BadPadding
	}
	return false
}
