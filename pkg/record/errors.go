package record

import (
	"github.com/kbats183/simple-media-server/pkg/registry"
	"github.com/pkg/errors"
)

var (
	ErrAlreadyRecording = errors.Wrap(registry.ErrConflict, "already recording")
	ErrNotRecording     = errors.New("not recording")
	ErrDisabled         = errors.New("recording is disabled")
	// ErrResource marks directory or file creation failures.
	ErrResource = errors.New("record resource unavailable")
	ErrStarted  = errors.New("record session already started")
	errStopped  = errors.New("record session stopped")
)
