package domain

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// MaxTermLength caps a sanitized search term, in characters.
const MaxTermLength = 500

// SanitizedTerm is user search input that went through SanitizeTerm.
// Pattern metacharacters are escaped with '\' and quotes are doubled.
type SanitizedTerm string

// SanitizeTerm makes user input safe to hand to a LIKE query: it trims the input,
// drops ';' and "--", escapes '\', '%' and '_', doubles single quotes, and caps the
// result at MaxTermLength characters without cutting an escape sequence in half.
func SanitizeTerm(term string) SanitizedTerm {
	term = strings.TrimSpace(term)
	term = strings.ReplaceAll(term, ";", "")
	for strings.Contains(term, "--") {
		term = strings.ReplaceAll(term, "--", "")
	}
	term = strings.TrimSpace(term)

	var b strings.Builder
	n := 0
	for _, r := range term {
		var tok string
		switch r {
		case '\\':
			tok = `\\`
		case '%':
			tok = `\%`
		case '_':
			tok = `\_`
		case '\'':
			tok = "''"
		default:
			tok = string(r)
		}
		size := utf8.RuneCountInString(tok)
		if n+size > MaxTermLength {
			break
		}
		b.WriteString(tok)
		n += size
	}
	return SanitizedTerm(b.String())
}

// LikePattern returns a substring pattern for a parameterized LIKE ... ESCAPE '\' query.
// Quotes are un-doubled because the driver binds the value.
func (t SanitizedTerm) LikePattern() string {
	return "%" + strings.ReplaceAll(string(t), "''", "'") + "%"
}

// Literal returns the text the user meant to search for, with all escaping removed.
func (t SanitizedTerm) Literal() string {
	s := string(t)
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\' && i+1 < len(s):
			i++
			b.WriteByte(s[i])
		case s[i] == '\'' && i+1 < len(s) && s[i+1] == '\'':
			i++
			b.WriteByte('\'')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// MatchesName is the loose retrieval relation: case-insensitive substring match.
// It is never used to decide identity.
func (t SanitizedTerm) MatchesName(name string) bool {
	return ContainsFold(name, t.Literal())
}

// ContainsFold reports whether substr is within s under Unicode case folding.
func ContainsFold(s, substr string) bool {
	return strings.Contains(Fold(s), Fold(substr))
}

// Fold returns the Unicode case folding of s. Stores without case-insensitive
// matching keep a folded copy of the name and compare it against a folded pattern.
func Fold(s string) string {
	// cases.Caser is stateful, so build one per call
	return cases.Fold().String(s)
}
