package utils

import (
	"strings"
	"unicode"
)

// ToSnakeCase converts a CamelCase operator type to snake_case, used to derive node names:
// "MatMulV2" -> "mat_mul_v2", "LSTMCell" -> "lstm_cell".
func ToSnakeCase(s string) string {
	runes := []rune(s)
	var sb strings.Builder
	sb.Grow(len(s) + 4)
	for ii, r := range runes {
		if unicode.IsUpper(r) && ii > 0 {
			prev := runes[ii-1]
			nextIsLower := ii+1 < len(runes) && unicode.IsLower(runes[ii+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextIsLower) {
				sb.WriteRune('_')
			}
		}
		sb.WriteRune(unicode.ToLower(r))
	}
	return sb.String()
}

// NormalizeIdentifier converts a node or graph name to one using only ASCII letters, digits and
// underscores: any other character becomes an underscore, and a leading digit is prefixed by one.
func NormalizeIdentifier(name string) string {
	normalized := strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			return r
		}
		return '_'
	}, name)
	if normalized != "" && unicode.IsDigit(rune(normalized[0])) {
		normalized = "_" + normalized
	}
	return normalized
}
