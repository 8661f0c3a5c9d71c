package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// Credentials that pass through ledgerd and its CLI. Identities are public
// bech32 addresses and are logged as-is.
var sensitiveKeys = map[string]struct{}{
	"authorization":  {},
	"token":          {},
	"bearer":         {},
	"hmac_secret":    {},
	"webhook_secret": {},
	"secret":         {},
	"passphrase":     {},
	"private_key":    {},
	"signature":      {},
}

// IsSensitive reports whether values logged under key must be masked.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// SensitiveKeys lists the masked keys in sorted order.
func SensitiveKeys() []string {
	keys := make([]string, 0, len(sensitiveKeys))
	for key := range sensitiveKeys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskValue hides non-empty values. Blank input comes back unchanged.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds an attribute whose value is always masked, whatever the key.
func MaskField(key, value string) slog.Attr {
	return slog.String(key, MaskValue(value))
}

// redactAttr masks sensitive keys the caller forgot to wrap with MaskField.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup || !IsSensitive(attr.Key) {
		return attr
	}
	if attr.Value.Kind() == slog.KindString && strings.TrimSpace(attr.Value.String()) == "" {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}
