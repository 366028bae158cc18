// Package format renders invoice numbers from a token template.
package format

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultInvoiceNumberTemplate yields numbers like INV-000001.
const DefaultInvoiceNumberTemplate = "{PREFIX}-{SEQ6}"

var tokenRe = regexp.MustCompile(`\{([A-Z]+)(\d*)\}`)

// InvoiceNumber expands template. Known tokens are {PREFIX}, {YYYY}, {YY},
// {MM}, {DD}, {SEQ} and {SEQn}, which zero-pads the sequence to n digits.
// A blank prefix leaves no leading separator.
func InvoiceNumber(template, prefix string, issuedAt time.Time, seq int64) (string, error) {
	if template == "" {
		return "", fmt.Errorf("invoice number template is empty")
	}
	if seq <= 0 {
		return "", fmt.Errorf("invalid invoice sequence: %d", seq)
	}

	var unknown []string
	out := tokenRe.ReplaceAllStringFunc(template, func(token string) string {
		parts := tokenRe.FindStringSubmatch(token)
		name, width := parts[1], parts[2]
		if name == "SEQ" {
			if width == "" {
				return strconv.FormatInt(seq, 10)
			}
			n, _ := strconv.Atoi(width)
			return fmt.Sprintf("%0*d", n, seq)
		}
		if width != "" {
			unknown = append(unknown, token)
			return token
		}
		switch name {
		case "PREFIX":
			return strings.TrimSpace(prefix)
		case "YYYY":
			return issuedAt.Format("2006")
		case "YY":
			return issuedAt.Format("06")
		case "MM":
			return issuedAt.Format("01")
		case "DD":
			return issuedAt.Format("02")
		}
		unknown = append(unknown, token)
		return token
	})
	if len(unknown) > 0 || strings.ContainsAny(out, "{}") {
		return "", fmt.Errorf("unresolved token in invoice number template %q", template)
	}
	return strings.TrimLeft(out, "-"), nil
}
