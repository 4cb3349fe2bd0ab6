package identity

import (
	"regexp"
	"strings"
)

var bracketedID = regexp.MustCompile(`<([^<>]+)>`)

// StripBrackets removes whitespace, surrounding angle brackets and quotes
// from a Message-ID token.
func StripBrackets(token string) string {
	token = strings.TrimSpace(token)
	token = strings.Trim(token, `"'`)
	token = strings.TrimPrefix(token, "<")
	token = strings.TrimSuffix(token, ">")
	return strings.TrimSpace(token)
}

// Tokens splits a threading header (In-Reply-To or References) into its
// bracket-stripped Message-IDs, in header order and without duplicates.
// Bracketed IDs are extracted even when not separated by whitespace; bare
// values are split on whitespace and commas.
func Tokens(header string) []string {
	var raw []string
	if matches := bracketedID.FindAllStringSubmatch(header, -1); len(matches) > 0 {
		for _, m := range matches {
			raw = append(raw, m[1])
		}
	} else {
		raw = strings.FieldsFunc(header, func(r rune) bool {
			return r == ' ' || r == '\t' || r == '\r' || r == '\n' || r == ','
		})
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, f := range raw {
		tok := StripBrackets(f)
		if tok == "" {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// Bracket wraps a Message-ID in angle brackets for use in outbound headers.
func Bracket(id string) string {
	id = StripBrackets(id)
	if id == "" {
		return ""
	}
	return "<" + id + ">"
}
