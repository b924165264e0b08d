package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateCity_Valid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", "Nairobi", "Nairobi"},
		{"with space", "Nakuru Town", "Nakuru Town"},
		{"collapsed spaces", "  Nakuru    Town ", "Nakuru Town"},
		{"country", "Kisumu,ke", "Kisumu,KE"},
		{"spaced country", " Kisumu , ke ", "Kisumu,KE"},
		{"state and country", "Springfield,il,us", "Springfield,IL,US"},
		{"alpha-3 country", "Kampala,uga", "Kampala,UGA"},
		{"hyphen", "Homa-Bay", "Homa-Bay"},
		{"apostrophe and period", "St. John's", "St. John's"},
		{"unicode", "Kédougou", "Kédougou"},
		{"combining mark", "Ke\u0301dougou", "Ke\u0301dougou"},
		{"digits", "Area51", "Area51"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateCity(tc.input, 1, 100)
			if err != nil {
				t.Fatalf("ValidateCity(%q) err = %v", tc.input, err)
			}
			if got != tc.want {
				t.Errorf("ValidateCity(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestValidateCity_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"empty", "", ErrCityEmpty},
		{"spaces", "   ", ErrCityEmpty},
		{"tab", "\t", ErrCityEmpty},
		{"code without name", " ,KE", ErrCityEmpty},
		{"four parts", "Springfield,IL,US,Earth", ErrCityTooManyParts},
		{"slash", "nai/robi", ErrCityName},
		{"question", "nai?robi", ErrCityName},
		{"ampersand", "nai&robi", ErrCityName},
		{"query injection", "Nairobi&appid=x", ErrCityName},
		{"control", "nai\x00robi", ErrCityName},
		{"angle brackets", "Nai<robi>", ErrCityName},
		{"empty code", "Kisumu,", ErrCityCode},
		{"one letter code", "Kisumu,K", ErrCityCode},
		{"long code", "Kisumu,Kenya", ErrCityCode},
		{"numeric code", "Kisumu,40", ErrCityCode},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateCity(tc.input, 1, 100)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("ValidateCity(%q) err = %v, want %v", tc.input, err, tc.wantErr)
			}
		})
	}
}

func TestValidateCity_NameLengthBounds(t *testing.T) {
	if _, err := ValidateCity("x", 2, 100); !errors.Is(err, ErrCityLength) {
		t.Errorf("below min: err = %v, want ErrCityLength", err)
	}
	if got, err := ValidateCity("ab", 2, 100); err != nil || got != "ab" {
		t.Errorf("at min: got %q, err = %v", got, err)
	}

	s100 := strings.Repeat("a", 100)
	if got, err := ValidateCity(s100, 1, 100); err != nil || len([]rune(got)) != 100 {
		t.Errorf("at max: rune count = %d, err = %v", len([]rune(got)), err)
	}
	if _, err := ValidateCity(s100+"a", 1, 100); !errors.Is(err, ErrCityLength) {
		t.Errorf("over max: err = %v, want ErrCityLength", err)
	}
	// Codes do not count toward the name bound.
	if got, err := ValidateCity(s100+",ke", 1, 100); err != nil || got != s100+",KE" {
		t.Errorf("max with code: got %q, err = %v", got, err)
	}
	if _, err := ValidateCity("x", 0, 0); err != nil {
		t.Errorf("no bounds: err = %v", err)
	}
}
