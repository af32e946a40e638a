package session

import "errors"

// Failures are terminal for the attempt in which they occur. They are logged,
// never returned from the Manager's public operations.
var (
	ErrPermissionDenied      = errors.New("camera access not authorized")
	ErrDeviceUnavailable     = errors.New("default video device is unavailable")
	ErrInputAttachFailed     = errors.New("couldn't add video device input to the session")
	ErrOutputAttachFailed    = errors.New("couldn't add photo output to the session")
	ErrCaptureProducedNoData = errors.New("capture produced no photo data")
	ErrNotConfigured         = errors.New("session is not configured")
	ErrNotRunning            = errors.New("session is not running")
	ErrDuplicateRequest      = errors.New("capture request id already in flight")
)
