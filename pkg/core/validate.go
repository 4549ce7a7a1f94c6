package core

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Limits enforced at submission time.
const (
	// MaxJobTypeNameLength is the maximum length for job type names.
	MaxJobTypeNameLength = 255

	// MaxParamsSize is the maximum size in bytes for job parameters (1MB).
	MaxParamsSize = 1 << 20

	// MaxRetriesLimit is the hard limit for retry attempts.
	MaxRetriesLimit = 100

	// MaxErrorMessageLength is the maximum length for stored error messages.
	MaxErrorMessageLength = 4096
)

// validJobTypeName matches alphanumeric, hyphens, underscores, and dots.
var validJobTypeName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// ValidateJobTypeName validates a job type name.
func ValidateJobTypeName(name string) error {
	if name == "" || len(name) > MaxJobTypeNameLength {
		return ErrInvalidJobTypeName
	}
	if !validJobTypeName.MatchString(name) {
		return ErrInvalidJobTypeName
	}
	return nil
}

// SanitizeErrorMessage truncates and strips control characters from error
// messages before they are persisted.
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampRetries ensures a retry budget is within limits.
func ClampRetries(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxRetriesLimit {
		return MaxRetriesLimit
	}
	return n
}

// ClampProgress bounds a progress percentage to [0, 100].
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
