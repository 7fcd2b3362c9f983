package utils

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// arabicToLatin follows the provider's transliteration of Saudi plates.
// Several letters share a Latin glyph, so the mapping cannot be reversed.
var arabicToLatin = map[rune]rune{
	'أ': 'A', 'ا': 'A',
	'ب': 'B',
	'ح': 'H', 'ج': 'J',
	'د': 'D',
	'ر': 'R',
	'س': 'S',
	'ص': 'X',
	'ط': 'T',
	'ع': 'E',
	'ق': 'G',
	'ك': 'K',
	'ل': 'L',
	'م': 'Z',
	'ن': 'N',
	'ه': 'H',
	'و': 'U', 'ى': 'V',

	'٠': '0', '١': '1', '٢': '2', '٣': '3', '٤': '4',
	'٥': '5', '٦': '6', '٧': '7', '٨': '8', '٩': '9',
}

// NormalizePlate returns the canonical lookup key for a plate string.
// Any input is accepted; the empty string maps to itself.
func NormalizePlate(plate string) string {
	plate = norm.NFC.String(plate)

	var b strings.Builder
	b.Grow(len(plate))
	for _, r := range plate {
		if unicode.IsSpace(r) || r == '-' || r == '_' {
			continue
		}
		if latin, ok := arabicToLatin[r]; ok {
			r = latin
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

// IsPlaceholder reports whether an attribute value carries no information.
func IsPlaceholder(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "", "unknown", "none", "null", "n/a", "غير محدد", "غير معروف":
		return true
	}
	return false
}
