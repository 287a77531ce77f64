package flow

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/vanakhel/server/internal/model"
)

const (
	minAge = 13
	maxAge = 100

	nationalIDLength = 12
	maxPhoneDigits   = 10
)

// emailPattern is the standard local-part "@" domain "." tld shape.
// "a@b.co" passes, "a@b" does not.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func isEmailShaped(s string) bool {
	return emailPattern.MatchString(s)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// digitsOnly strips every non-digit rune.
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeNationalID strips spaces so "1234 5678 9012" and "123456789012"
// are equivalent; ok is false unless exactly 12 digits remain.
func normalizeNationalID(raw string) (id string, ok bool) {
	id = strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	if len(id) != nationalIDLength || !isDigits(id) {
		return "", false
	}
	return id, true
}

// validateIdentifier checks the raw identifier against the chosen method and
// returns the normalized value to send upstream.
func validateIdentifier(method model.Method, raw string) (value string, errMsg string) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", "Please enter your email, mobile number or APAAR ID."
	}

	switch method {
	case model.MethodNationalID:
		id, ok := normalizeNationalID(trimmed)
		if !ok {
			return "", fmt.Sprintf("APAAR ID must be exactly %d digits.", nationalIDLength)
		}
		return id, ""
	case model.MethodEmailOrPhone:
		if isEmailShaped(trimmed) {
			return trimmed, ""
		}
		// Digit-only input is treated as a mobile number, capped at 10
		// digits (Indian mobile numbers carry no country prefix here).
		if isDigits(trimmed) && len(trimmed) <= maxPhoneDigits {
			return trimmed, ""
		}
		return "", "Please enter a valid email address or mobile number."
	default:
		return "", "Please choose how you want to sign in first."
	}
}

// ageOn returns the full years between dob and now, adjusted by whether the
// birthday has occurred yet this year. ok is false for impossible calendar
// dates such as 31 February.
func ageOn(dob model.DateOfBirth, now time.Time) (age int, ok bool) {
	if dob.Year <= 0 || dob.Month < 1 || dob.Month > 12 || dob.Day < 1 || dob.Day > 31 {
		return 0, false
	}
	birth := time.Date(dob.Year, time.Month(dob.Month), dob.Day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow (Feb 30 -> Mar 2); reject such inputs.
	if birth.Year() != dob.Year || int(birth.Month()) != dob.Month || birth.Day() != dob.Day {
		return 0, false
	}

	age = now.Year() - dob.Year
	beforeBirthday := int(now.Month()) < dob.Month ||
		(int(now.Month()) == dob.Month && now.Day() < dob.Day)
	if beforeBirthday {
		age--
	}
	return age, true
}

// validateDOB checks presence, calendar validity, and the [13, 100] age window.
func validateDOB(dob model.DateOfBirth, now time.Time) string {
	if dob.Day == 0 || dob.Month == 0 || dob.Year == 0 {
		return "Please enter your full date of birth."
	}
	age, ok := ageOn(dob, now)
	if !ok {
		return "Please enter a valid date of birth."
	}
	if age < minAge || age > maxAge {
		return fmt.Sprintf("You must be between %d and %d years old.", minAge, maxAge)
	}
	return ""
}

// isoDate renders the DOB as yyyy-mm-dd for the platform API.
func isoDate(dob model.DateOfBirth) string {
	return fmt.Sprintf("%04d-%02d-%02d", dob.Year, dob.Month, dob.Day)
}
