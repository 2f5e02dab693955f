package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")
	ErrJobNotReady  = errors.New("job not ready")
	ErrBusy         = errors.New("service busy")

	// ErrGenerationFailed marks a request whose generation itself failed
	// (stage 1 exhausted, stage 2a or decode failure, vendor task failed).
	ErrGenerationFailed = errors.New("generation failed")

	// Vendor classes. Callers distinguish "try a different model" from
	// "check your credentials" from "try again later".
	ErrModelUnavailable   = errors.New("vendor model unavailable")
	ErrVendorAccessDenied = errors.New("vendor access denied")
	ErrVendorUnavailable  = errors.New("vendor unavailable")
	ErrVendorDisabled     = errors.New("vendor disabled")
)

// ErrorCode returns the stable client-facing code for err.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrJobNotReady):
		return "not_ready"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, ErrVendorAccessDenied):
		return "vendor_access_denied"
	case errors.Is(err, ErrVendorDisabled):
		return "vendor_disabled"
	case errors.Is(err, ErrVendorUnavailable):
		return "vendor_unavailable"
	case errors.Is(err, ErrGenerationFailed):
		return "generation_failed"
	default:
		return "internal"
	}
}

var codeErrors = map[string]error{
	"invalid_input":        ErrInvalidInput,
	"not_found":            ErrNotFound,
	"not_ready":            ErrJobNotReady,
	"unauthorized":         ErrUnauthorized,
	"busy":                 ErrBusy,
	"model_unavailable":    ErrModelUnavailable,
	"vendor_access_denied": ErrVendorAccessDenied,
	"vendor_disabled":      ErrVendorDisabled,
	"vendor_unavailable":   ErrVendorUnavailable,
	"generation_failed":    ErrGenerationFailed,
}

// ErrorFromCode rebuilds a classified error from a stored code and public
// message. Unknown codes yield an unclassified error.
func ErrorFromCode(code, message string) error {
	if message == "" {
		message = code
	}
	if sentinel, ok := codeErrors[code]; ok {
		return &codedError{msg: message, sentinel: sentinel}
	}
	return errors.New(message)
}

// codedError carries an already public message for a known class.
type codedError struct {
	msg      string
	sentinel error
}

func (e *codedError) Error() string { return e.msg }
func (e *codedError) Unwrap() error { return e.sentinel }

// PublicMessage is the text a client may see for err. Caller errors keep
// their detail; everything else is reduced to a fixed sentence.
func PublicMessage(err error) string {
	switch code := ErrorCode(err); code {
	case "":
		return ""
	case "invalid_input", "not_found", "not_ready":
		return err.Error()
	case "unauthorized":
		return "authentication required"
	case "busy":
		return "the service is at capacity, retry later"
	case "model_unavailable":
		return "the requested model is not available"
	case "vendor_access_denied":
		return "the video vendor rejected our credentials or billing"
	case "vendor_disabled":
		return "the requested engine is disabled"
	case "vendor_unavailable":
		return "the video vendor is unavailable, retry later"
	case "generation_failed":
		return "video generation failed"
	default:
		return "internal error"
	}
}
