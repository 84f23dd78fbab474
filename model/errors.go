package model

import (
	"errors"
	"fmt"

	"github.com/mdobak/go-xerrors"
)

type ErrorKind string

const (
	KindEnvironment ErrorKind = "environment"
	KindDecode      ErrorKind = "decode"
	KindInference   ErrorKind = "inference"
	KindWrite       ErrorKind = "write"
)

// Sentinels to match a PipelineError kind with errors.Is.
var (
	ErrEnvironment   = errors.New("environment error")
	ErrInputNotFound = errors.New("input not found")
	ErrDecode        = errors.New("decode error")
	ErrInference     = errors.New("inference error")
	ErrWrite         = errors.New("write error")
	ErrCancelled     = errors.New("cancelled")
)

// PipelineError carries the taxonomy of a failure. Environment errors abort
// the run; the other kinds are scoped to one item.
type PipelineError struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error

	inputNotFound bool
}

func (e *PipelineError) Error() string {
	msg := string(e.Kind) + " error"
	if e.Op != "" {
		msg += " [" + e.Op + "]"
	}
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func (e *PipelineError) Is(target error) bool {
	switch target {
	case ErrEnvironment:
		return e.Kind == KindEnvironment
	case ErrInputNotFound:
		return e.inputNotFound
	case ErrDecode:
		return e.Kind == KindDecode
	case ErrInference:
		return e.Kind == KindInference
	case ErrWrite:
		return e.Kind == KindWrite
	}
	return false
}

// Fatal reports whether the error must abort the whole run.
func (e *PipelineError) Fatal() bool {
	return e.Kind == KindEnvironment
}

func newPipelineError(kind ErrorKind, op, path string, err error) *PipelineError {
	if err == nil {
		err = fmt.Errorf("%s failed", op)
	}
	return &PipelineError{
		Kind: kind,
		Op:   op,
		Path: path,
		Err:  xerrors.WithStackTrace(err, 2),
	}
}

func NewEnvironmentError(op, path string, err error) *PipelineError {
	return newPipelineError(KindEnvironment, op, path, err)
}

// NewInputNotFoundError is the environment error raised for a missing input root.
func NewInputNotFoundError(path string, err error) *PipelineError {
	e := newPipelineError(KindEnvironment, "scan_input", path, err)
	e.inputNotFound = true
	return e
}

func NewDecodeError(op, path string, err error) *PipelineError {
	return newPipelineError(KindDecode, op, path, err)
}

func NewInferenceError(op, path string, err error) *PipelineError {
	return newPipelineError(KindInference, op, path, err)
}

func NewWriteError(op, path string, err error) *PipelineError {
	return newPipelineError(KindWrite, op, path, err)
}

// KindOf returns the taxonomy kind of err, or "" when err is not a PipelineError.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsFatal reports whether err is an environment error.
func IsFatal(err error) bool {
	return errors.Is(err, ErrEnvironment)
}
