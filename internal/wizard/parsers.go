package wizard

import (
	"strconv"
	"strings"

	"github.com/piyushsatti/nonagon/internal/domain"
)

// Answer parsers. Each takes the member's raw free-text reply and returns a
// normalized string for the answer sheet, or a validation error whose
// message is shown to the member verbatim.

// ParseEpochSeconds accepts a unix timestamp in seconds: an unsigned digit
// string. Whether the instant must lie in the future is the consuming
// operation's rule, not the parser's.
func ParseEpochSeconds(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.IndexFunc(raw, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return "", domain.Validationf("send the start time as a unix timestamp in seconds")
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "", domain.Validationf("send the start time as a unix timestamp in seconds")
	}
	return strconv.FormatInt(n, 10), nil
}

// ParsePositiveHours accepts a positive decimal number of hours.
func ParsePositiveHours(raw string) (string, error) {
	h, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || h <= 0 {
		return "", domain.Validationf("send the duration as a positive number of hours")
	}
	return strconv.FormatFloat(h, 'f', -1, 64), nil
}

// ParseCSVMax accepts a comma-separated list, trimming blanks, capped at max
// entries.
func ParseCSVMax(max int) func(string) (string, error) {
	return func(raw string) (string, error) {
		var items []string
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				items = append(items, part)
			}
		}
		if len(items) > max {
			return "", domain.Validationf("at most %d entries allowed", max)
		}
		return strings.Join(items, ","), nil
	}
}

// ParseHTTPURL accepts an absolute http/https URL.
func ParseHTTPURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if err := domain.ValidateHTTPURL(raw); err != nil {
		return "", err
	}
	return raw, nil
}

// ParseSheetURL accepts a link from one of the recognised character-sheet
// services.
func ParseSheetURL(raw string) (string, error) {
	raw, err := ParseHTTPURL(raw)
	if err != nil {
		return "", err
	}
	if !domain.SheetURLPattern.MatchString(raw) {
		return "", domain.Validationf("that link is not a recognised character-sheet service")
	}
	return raw, nil
}

// ParseBoundedText accepts free text up to max characters.
func ParseBoundedText(max int) func(string) (string, error) {
	return func(raw string) (string, error) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return "", domain.Validationf("send some text")
		}
		if len(raw) > max {
			return "", domain.Validationf("keep it under %d characters", max)
		}
		return raw, nil
	}
}

// ParseBoundedName accepts text between min and max characters.
func ParseBoundedName(min, max int) func(string) (string, error) {
	return func(raw string) (string, error) {
		raw = strings.TrimSpace(raw)
		if len(raw) < min || len(raw) > max {
			return "", domain.Validationf("the name must be %d-%d characters", min, max)
		}
		return raw, nil
	}
}
