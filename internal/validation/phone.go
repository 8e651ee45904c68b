package validation

import (
	"regexp"
	"strings"
)

var phonePattern = regexp.MustCompile(`^\+?[1-9]\d{6,14}$`)

// NormalizePhone strips spaces, dashes and parentheses.
func NormalizePhone(phone string) string {
	r := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
	return r.Replace(strings.TrimSpace(phone))
}

// ValidPhone checks an international-style phone number.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(NormalizePhone(phone))
}
