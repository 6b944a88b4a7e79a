package query

import (
	"fmt"
	"strings"
	"unicode"
)

// tokenize splits a query string on whitespace, keeping double-quoted
// segments (for labels/commands containing spaces) intact as one token with
// the quotes stripped.
func tokenize(input string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inQuotes := false
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range input {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case unicode.IsSpace(r) && !inQuotes:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	if inQuotes {
		return nil, fmt.Errorf("malformed query: unterminated quoted string")
	}
	flush()
	return tokens, nil
}

// operators recognized inside a fused `field<op>value` token, longest first
// so `!=` and `<=`/`>=` aren't mis-split as `=` or `<`/`>`.
var operators = []string{"!=", "%=", "<=", ">=", "=", "<", ">"}

// splitFused breaks a token like `status=queued` into its field name,
// operator, and value. Returns an error if no known operator is present.
func splitFused(token string) (field, op, value string, err error) {
	for _, candidate := range operators {
		if idx := strings.Index(token, candidate); idx >= 0 {
			return token[:idx], candidate, token[idx+len(candidate):], nil
		}
	}
	return "", "", "", fmt.Errorf("malformed query: expected an operator in %q", token)
}
