package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")
	ErrMissingSecret = fmt.Errorf("listener secret is empty")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrTokenExpired     = fmt.Errorf("access token expired")
	ErrUnauthorized     = fmt.Errorf("unauthorized")

	// PKCE callback errors
	ErrInvalidPayload = fmt.Errorf("redirect payload unresolvable")
	ErrBusy           = fmt.Errorf("a callback session is already listening")

	// Listener errors
	ErrBadRequest = fmt.Errorf("bad request")

	// Download and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrTrackNotFound      = fmt.Errorf("track not found")
	ErrQualityUnavailable = fmt.Errorf("requested audio quality unavailable for stream")
	ErrDownloadFailed     = fmt.Errorf("download failed")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
