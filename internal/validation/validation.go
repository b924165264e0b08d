package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// City queries follow OpenWeather's q parameter: "name", "name,country" or
// "name,state,country", where state and country are short letter codes.
const maxCityParts = 3

var (
	ErrCityEmpty        = errors.New("city is required")
	ErrCityLength       = errors.New("city name length out of range")
	ErrCityName         = errors.New("city name contains invalid characters")
	ErrCityCode         = errors.New("state and country must be 2 or 3 letter codes")
	ErrCityTooManyParts = errors.New("city takes at most name, state and country")
)

// ValidateCity checks input as an OpenWeather city query and returns it normalized:
// parts trimmed, runs of spaces in the name collapsed, codes upper-cased
// ("  kisumu , ke" -> "kisumu,KE"). minLen and maxLen bound the name in runes;
// zero disables a bound. Errors are meant for 400 INVALID_LOCATION responses.
func ValidateCity(input string, minLen, maxLen int) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", ErrCityEmpty
	}
	parts := strings.Split(input, ",")
	if len(parts) > maxCityParts {
		return "", fmt.Errorf("%w: got %d parts", ErrCityTooManyParts, len(parts))
	}

	name := strings.Join(strings.Fields(parts[0]), " ")
	if name == "" {
		return "", ErrCityEmpty
	}
	n := len([]rune(name))
	if (minLen > 0 && n < minLen) || (maxLen > 0 && n > maxLen) {
		return "", fmt.Errorf("%w: %d characters", ErrCityLength, n)
	}
	for _, r := range name {
		if !isCityNameRune(r) {
			return "", fmt.Errorf("%w: %q", ErrCityName, r)
		}
	}

	out := []string{name}
	for _, p := range parts[1:] {
		code := strings.TrimSpace(p)
		if !isLetterCode(code) {
			return "", fmt.Errorf("%w: %q", ErrCityCode, code)
		}
		out = append(out, strings.ToUpper(code))
	}
	return strings.Join(out, ","), nil
}

// isCityNameRune allows letters with their combining marks, digits, spaces and
// the punctuation found in place names ("Homa-Bay", "St. John's").
func isCityNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '\'', '.':
		return true
	}
	return false
}

func isLetterCode(s string) bool {
	if len(s) < 2 || len(s) > 3 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i] | 0x20
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}
