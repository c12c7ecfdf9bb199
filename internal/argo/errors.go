package argo

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCoordinate is returned for latitudes or longitudes outside the WGS84 range.
	ErrInvalidCoordinate = errors.New("coordinate out of range")

	// ErrMissingTimestamp is returned for profiles without a usable date.
	ErrMissingTimestamp = errors.New("missing timestamp")

	// ErrUnrecognizedQC is returned when a QC value could not be decoded.
	ErrUnrecognizedQC = errors.New("unrecognized qc encoding")

	// ErrNoProfiles is returned when a file declares no profiles.
	ErrNoProfiles = errors.New("file contains no profiles")
)

// TransientNetworkError is a fetch failure worth retrying.
type TransientNetworkError struct {
	URL        string
	StatusCode int // 0 when the request never got a response
	Err        error
}

func (e *TransientNetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient fetch error %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("transient fetch error %s: %v", e.URL, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// PermanentFetchError is a fetch that will not succeed by retrying, either
// because the source refused it or because retries ran out.
type PermanentFetchError struct {
	URL        string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *PermanentFetchError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s failed after %d attempt(s): status %d", e.URL, e.Attempts, e.StatusCode)
	default:
		return fmt.Sprintf("fetch %s failed after %d attempt(s)", e.URL, e.Attempts)
	}
}

func (e *PermanentFetchError) Unwrap() error { return e.Err }

// ParseError is a failure to decode one profile file. It never aborts the
// rest of a batch.
type ParseError struct {
	File string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IntegrityError is a single record rejected during load.
type IntegrityError struct {
	Table  string
	Key    string
	Source string // originating file when known
	Err    error
}

func (e *IntegrityError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s record %s (from %s): %v", e.Table, e.Key, e.Source, e.Err)
	}
	return fmt.Sprintf("%s record %s: %v", e.Table, e.Key, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// PrerequisiteMissingError aborts a run when a stage finds the output of an
// earlier stage absent or unusable.
type PrerequisiteMissingError struct {
	Stage    string
	Artifact string
	Err      error
}

func (e *PrerequisiteMissingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stage %s: prerequisite %s missing: %v", e.Stage, e.Artifact, e.Err)
	}
	return fmt.Sprintf("stage %s: prerequisite %s missing", e.Stage, e.Artifact)
}

func (e *PrerequisiteMissingError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	var t *TransientNetworkError
	return errors.As(err, &t)
}
