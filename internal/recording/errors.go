package recording

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration    = errors.New("recording: configuration error")
	ErrNameRequired     = fmt.Errorf("%w: recording name required", ErrConfiguration)
	ErrInvalidName      = fmt.Errorf("%w: invalid recording name", ErrConfiguration)
	ErrInitIncomplete   = fmt.Errorf("%w: skeleton and mesh for both hands must arrive before recording", ErrConfiguration)
	ErrAlreadyCapturing = fmt.Errorf("%w: already capturing", ErrConfiguration)
	ErrNotCapturing     = fmt.Errorf("%w: not capturing", ErrConfiguration)
	ErrNothingCaptured  = fmt.Errorf("%w: no frames captured", ErrConfiguration)
	ErrEmptyRecording   = fmt.Errorf("%w: recording has no frames", ErrConfiguration)
	ErrNotPlaying       = fmt.Errorf("%w: no recording loaded", ErrConfiguration)

	ErrNotFound = errors.New("recording: not found")

	ErrPersistence = errors.New("recording: persistence failure")
	ErrCorrupt     = fmt.Errorf("%w: corrupt recording file", ErrPersistence)
)
