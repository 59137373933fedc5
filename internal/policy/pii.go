// Package policy guards resume content: it rejects inputs the engine should
// not analyze and masks personal data before text leaves the process.
package policy

import (
	"regexp"
)

var (
	emailPattern = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`)
	phonePattern = regexp.MustCompile(`(?:\+?\d[\d()\-\s.]{7,}\d)`)
	urlPattern   = regexp.MustCompile(`(?i)\bhttps?://(?:www\.)?linkedin\.com/in/[^\s]+`)
)

// MaskPII replaces contact details and identifiers with placeholders. Card
// numbers run before phones since the phone pattern also matches long digit runs.
func MaskPII(value string) string {
	masked := emailPattern.ReplaceAllString(value, "[email_redacted]")
	masked = urlPattern.ReplaceAllString(masked, "[profile_redacted]")
	masked = ssnPattern.ReplaceAllString(masked, "***-**-****")
	masked = cardPattern.ReplaceAllStringFunc(masked, maskCardNumber)
	masked = phonePattern.ReplaceAllString(masked, "[phone_redacted]")
	return masked
}

func maskCardNumber(value string) string {
	digits := make([]rune, 0, len(value))
	for _, char := range value {
		if char >= '0' && char <= '9' {
			digits = append(digits, char)
		}
	}
	if len(digits) < 8 {
		return "[card_redacted]"
	}
	return "**** **** **** " + string(digits[len(digits)-4:])
}
