package fieldcrypt

import (
	"strings"
	"unicode/utf8"
)

// Masker hides part of a sensitive value.
type Masker func(string) string

const maskRune = "*"

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(s string) string {
	local, domain, ok := strings.Cut(s, "@")
	if !ok || local == "" {
		return maskAll(s)
	}
	first, size := utf8.DecodeRuneInString(local)
	return string(first) + strings.Repeat(maskRune, max(utf8.RuneCountInString(local[size:]), 3)) + "@" + domain
}

// MaskPhone keeps the last four digits.
func MaskPhone(s string) string {
	return keepEnds(s, 0, 4)
}

// MaskNationalID keeps the last four characters.
func MaskNationalID(s string) string {
	return keepEnds(s, 0, 4)
}

// MaskIBAN keeps the country code, check digits and the last four
// characters, ignoring spaces.
func MaskIBAN(s string) string {
	return keepEnds(strings.ReplaceAll(s, " ", ""), 4, 4)
}

func keepEnds(s string, head, tail int) string {
	runes := []rune(s)
	if len(runes) <= head+tail {
		return maskAll(s)
	}
	return string(runes[:head]) + strings.Repeat(maskRune, len(runes)-head-tail) + string(runes[len(runes)-tail:])
}

func maskAll(s string) string {
	return strings.Repeat(maskRune, utf8.RuneCountInString(s))
}
