package logging

import (
	"log/slog"
	"net/url"
	"slices"
	"strings"
)

// RedactedValue replaces secrets in log records.
const RedactedValue = "[REDACTED]"

// plainKeys are emitted verbatim by MaskField. Everything else defid logs
// through MaskField, such as exporter headers, is masked.
var plainKeys = []string{
	"asset",
	"component",
	"endpoint",
	"error",
	"module",
	"operation",
	"pair",
	"pool",
	"reason",
	"token",
}

// IsAllowlisted reports whether key may be logged without masking.
func IsAllowlisted(key string) bool {
	_, found := slices.BinarySearch(plainKeys, strings.ToLower(strings.TrimSpace(key)))
	return found
}

// RedactionAllowlist returns a sorted copy of the keys logged verbatim.
func RedactionAllowlist() []string {
	return slices.Clone(plainKeys)
}

// MaskField masks value unless key is allowlisted or value is blank.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// MaskDSN keeps a database DSN readable while hiding its password. Values
// that do not parse as URLs with credentials, such as sqlite file paths, are
// returned unchanged.
func MaskDSN(key, dsn string) slog.Attr {
	parsed, err := url.Parse(strings.TrimSpace(dsn))
	if err != nil || parsed.User == nil {
		return slog.String(key, dsn)
	}
	return slog.String(key, parsed.Redacted())
}
