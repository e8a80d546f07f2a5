package security

import (
	"regexp"
	"strings"
)

var (
	walletPattern   = regexp.MustCompile(`0x[a-fA-F0-9]{40}`)
	txHashPattern   = regexp.MustCompile(`0x[a-fA-F0-9]{64}`)
	sensitiveFields = []string{
		"secret", "private_key", "seed", "mnemonic", "password", "token", "encryption_key",
	}
)

// MaskWalletAddress keeps the first 6 and last 4 characters of an address.
func MaskWalletAddress(addr string) string {
	if len(addr) < 10 {
		return "0x****"
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// MaskString masks addresses embedded in free text. Transaction hashes are left intact.
func MaskString(s string) string {
	hashes := txHashPattern.FindAllStringIndex(s, -1)
	if len(hashes) == 0 {
		return walletPattern.ReplaceAllStringFunc(s, MaskWalletAddress)
	}

	var b strings.Builder
	last := 0
	for _, h := range hashes {
		b.WriteString(walletPattern.ReplaceAllStringFunc(s[last:h[0]], MaskWalletAddress))
		b.WriteString(s[h[0]:h[1]])
		last = h[1]
	}
	b.WriteString(walletPattern.ReplaceAllStringFunc(s[last:], MaskWalletAddress))
	return b.String()
}

// MaskMap redacts sensitive keys and masks addresses in nested values.
func MaskMap(data map[string]interface{}) map[string]interface{} {
	masked := make(map[string]interface{}, len(data))
	for k, v := range data {
		if isSensitiveField(k) {
			masked[k] = "***REDACTED***"
			continue
		}
		masked[k] = maskValue(v)
	}
	return masked
}

func maskValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return MaskString(val)
	case map[string]interface{}:
		return MaskMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i := range val {
			out[i] = maskValue(val[i])
		}
		return out
	default:
		return v
	}
}

func isSensitiveField(field string) bool {
	lower := strings.ToLower(field)
	for _, sensitive := range sensitiveFields {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}
