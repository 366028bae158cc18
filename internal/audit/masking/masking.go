// Package masking hides payment credentials before metadata reaches the audit trail.
package masking

import "strings"

const hidden = "****"

var credentialKeys = map[string]struct{}{
	"source_token":  {},
	"customer_ref":  {},
	"access_token":  {},
	"card_number":   {},
	"wallet_token":  {},
	"client_secret": {},
}

// Credential keeps a token's prefix ("pm_card_") and last four characters.
// Tokens of four characters or fewer are hidden entirely.
func Credential(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	prefix, body := "", token
	if i := strings.LastIndex(token, "_"); i >= 0 && i < len(token)-1 {
		prefix, body = token[:i+1], token[i+1:]
	}
	if len(body) <= 4 {
		return prefix + hidden
	}
	return prefix + hidden + body[len(body)-4:]
}

// Metadata copies metadata with credential values masked at any depth.
// Blank keys are dropped.
func Metadata(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for key, value := range metadata {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			out[key] = Metadata(nested)
			continue
		}
		if token, ok := value.(string); ok && isCredential(key) {
			out[key] = Credential(token)
			continue
		}
		out[key] = value
	}
	return out
}

func isCredential(key string) bool {
	_, ok := credentialKeys[strings.ToLower(key)]
	return ok
}
