package video

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"clipgen/internal/domain"
)

const maxDetail = 300

// classifyResponse maps a failed vendor response to one of the vendor error
// classes. Body markers win over the status code because some vendors
// report an unopened model as 400 or 403.
func classifyResponse(vendor string, status int, body []byte) error {
	detail := truncateDetail(strings.TrimSpace(string(body)))
	class := classOf(status, detail)
	return fmt.Errorf("%s: status %d: %s: %w", vendor, status, detail, class)
}

// truncateDetail caps s at maxDetail runes without splitting one.
func truncateDetail(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if utf8.RuneCountInString(s) <= maxDetail {
		return s
	}
	n := 0
	for i := range s {
		if n == maxDetail {
			return s[:i] + "..."
		}
		n++
	}
	return s
}

func classOf(status int, detail string) error {
	lower := strings.ToLower(detail)
	switch {
	case strings.Contains(detail, "ModelNotOpen") || strings.Contains(detail, "NotFound"):
		return domain.ErrModelUnavailable
	case strings.Contains(detail, "AccessDenied") || strings.Contains(detail, "Unauthorized"):
		return domain.ErrVendorAccessDenied
	case isBillingMessage(lower):
		return domain.ErrVendorAccessDenied
	}
	switch {
	case status == http.StatusNotFound:
		return domain.ErrModelUnavailable
	case status == http.StatusUnauthorized || status == http.StatusPaymentRequired || status == http.StatusForbidden:
		return domain.ErrVendorAccessDenied
	case status == http.StatusTooManyRequests || status >= 500:
		return domain.ErrVendorUnavailable
	default:
		return domain.ErrGenerationFailed
	}
}

func isBillingMessage(lower string) bool {
	return strings.Contains(lower, "insufficient") || strings.Contains(lower, "credits") || strings.Contains(lower, "paid invoice")
}

func classifyTransport(vendor string, err error) error {
	return fmt.Errorf("%s: request failed: %w: %w", vendor, err, domain.ErrVendorUnavailable)
}

// IsRetryable reports whether a poll may try again after err.
func IsRetryable(err error) bool {
	return errors.Is(err, domain.ErrVendorUnavailable)
}
