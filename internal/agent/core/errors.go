package core

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyQuestion     = errors.New("question is required")
	ErrInvalidOutputMode = errors.New("invalid output mode")
	ErrNoCompletion      = errors.New("completion client is required")
	ErrNoChoices         = errors.New("completion returned no choices")
)

// ErrorKind classifies a contained stage failure.
type ErrorKind string

const (
	ErrorKindTransport ErrorKind = "transport"
	ErrorKindMalformed ErrorKind = "malformed_output"
	ErrorKindRetrieval ErrorKind = "retrieval"
)

// MalformedOutputError reports model text that could not be decoded into the
// expected structure.
type MalformedOutputError struct {
	Raw string
	Err error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed model output: %v", e.Err)
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }

// StageError is a failure caught at a stage boundary. It never leaves the
// stage; its kind and message are copied into the trace record.
type StageError struct {
	Stage AgentName
	Kind  ErrorKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage %s failure: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// classify wraps err as a StageError for stage, inferring the kind.
func classify(stage AgentName, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	kind := ErrorKindTransport
	var mo *MalformedOutputError
	if errors.As(err, &mo) {
		kind = ErrorKindMalformed
	}
	return &StageError{Stage: stage, Kind: kind, Err: err}
}
