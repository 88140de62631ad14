package conversation

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

var (
	birthDatePattern = regexp.MustCompile(`^(\d{2})\.(\d{2})\.(\d{4})$`)
	birthTimePattern = regexp.MustCompile(`^(\d{2}):(\d{2})$`)
)

const (
	minBirthYear = 1900
	maxBirthYear = 2100

	// UnknownBirthTime is stored when the user does not know the hour of birth
	UnknownBirthTime = "12:00"
)

var (
	errEmpty        = errors.New("empty value")
	errEmailFormat  = errors.New("email must contain '@' and '.'")
	errDateFormat   = errors.New("date must be dd.mm.yyyy")
	errDateRange    = errors.New("date out of range")
	errTimeFormat   = errors.New("time must be hh:mm")
	errTimeRange    = errors.New("time out of range")
	errUnexpectedIn = errors.New("unexpected input for this step")
)

// ValidateName trims the contact name and rejects empty input.
func ValidateName(s string) (string, error) {
	return nonEmpty(s)
}

// ValidateEmail accepts any trimmed value containing '@' and '.'.
func ValidateEmail(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "@") || !strings.Contains(s, ".") {
		return "", errEmailFormat
	}
	return s, nil
}

// ValidatePhone trims the phone number and rejects empty input.
func ValidatePhone(s string) (string, error) {
	return nonEmpty(s)
}

// ValidateCity trims the birth city and rejects empty input.
func ValidateCity(s string) (string, error) {
	return nonEmpty(s)
}

// ValidateBirthDate checks dd.mm.yyyy with day 1-31, month 1-12 and year
// 1900-2100. Calendar validity is not checked, so 30.02 is accepted.
func ValidateBirthDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	m := birthDatePattern.FindStringSubmatch(s)
	if m == nil {
		return "", errDateFormat
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if day < 1 || day > 31 || month < 1 || month > 12 || year < minBirthYear || year > maxBirthYear {
		return "", errDateRange
	}
	return s, nil
}

// ValidateBirthTime checks hh:mm with hour 0-23 and minute 0-59.
func ValidateBirthTime(s string) (string, error) {
	s = strings.TrimSpace(s)
	m := birthTimePattern.FindStringSubmatch(s)
	if m == nil {
		return "", errTimeFormat
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return "", errTimeRange
	}
	return s, nil
}

func nonEmpty(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errEmpty
	}
	return s, nil
}
