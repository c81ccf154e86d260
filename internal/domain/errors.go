package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedPayload  = errors.New("malformed payload")
	ErrTruncatedPCM      = fmt.Errorf("%w: truncated pcm", ErrMalformedPayload)
	ErrDeviceAcquisition = errors.New("audio device unavailable")
	ErrStream            = errors.New("stream error")
	ErrSessionRunning    = errors.New("session already running")
)
