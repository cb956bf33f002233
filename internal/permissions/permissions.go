// Package permissions checks for microphone access on platforms that gate it.
package permissions

import "errors"

var (
	// ErrMicrophonePending means the system prompt was shown and the user
	// has not answered yet.
	ErrMicrophonePending = errors.New("microphone permission requested, restart once granted")
	ErrMicrophoneDenied  = errors.New("microphone permission denied, enable it in System Settings → Privacy & Security → Microphone")
)
