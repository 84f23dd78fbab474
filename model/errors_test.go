package model

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPipelineError_Kinds(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
		kind     ErrorKind
		fatal    bool
	}{
		{NewEnvironmentError("load_model", "m.onnx", os.ErrNotExist), ErrEnvironment, KindEnvironment, true},
		{NewInputNotFoundError("/in", os.ErrNotExist), ErrInputNotFound, KindEnvironment, true},
		{NewDecodeError("open_video", "a.mp4", nil), ErrDecode, KindDecode, false},
		{NewInferenceError("forward", "", errors.New("bad")), ErrInference, KindInference, false},
		{NewWriteError("rename_media", "o.mp4", errors.New("disk full")), ErrWrite, KindWrite, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			require.ErrorIs(t, tt.err, tt.sentinel)
			require.Equal(t, tt.kind, KindOf(tt.err))
			require.Equal(t, tt.fatal, IsFatal(tt.err))

			wrapped := fmt.Errorf("item: %w", tt.err)
			require.ErrorIs(t, wrapped, tt.sentinel)
			require.Equal(t, tt.kind, KindOf(wrapped))
		})
	}
}

func TestPipelineError_InputNotFoundIsEnvironment(t *testing.T) {
	err := NewInputNotFoundError("/in", os.ErrNotExist)
	require.ErrorIs(t, err, ErrEnvironment)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.NotErrorIs(t, NewEnvironmentError("x", "", nil), ErrInputNotFound)
}

func TestPipelineError_Message(t *testing.T) {
	err := NewWriteError("rename_media", "o.mp4", errors.New("disk full"))
	require.Equal(t, "write error [rename_media] o.mp4: disk full", err.Error())

	var pe *PipelineError
	require.True(t, errors.As(fmt.Errorf("wrap: %w", err), &pe))
	require.Equal(t, "o.mp4", pe.Path)
	require.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}
