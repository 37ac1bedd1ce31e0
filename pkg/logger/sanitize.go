package logger

import (
	"log/slog"
	"strings"
)

// MaskedEmail returns a log attribute with the address reduced to its first
// character and top-level domain ("o***@***.com"). Enough to correlate a
// support ticket, not enough to harvest.
func MaskedEmail(key, email string) slog.Attr {
	return slog.String(key, maskEmail(email))
}

// MaskedPhone returns a log attribute keeping only the last two digits of a
// phone number.
func MaskedPhone(key, phone string) slog.Attr {
	return slog.String(key, maskPhone(phone))
}

func maskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "[invalid-email]"
	}

	local, domain := email[:at], email[at+1:]
	masked := local[:1] + strings.Repeat("*", len(local)-1)

	if dot := strings.LastIndex(domain, "."); dot > 0 {
		domain = strings.Repeat("*", dot) + domain[dot:]
	} else {
		domain = strings.Repeat("*", len(domain))
	}

	return masked + "@" + domain
}

func maskPhone(phone string) string {
	digits := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits < 4 {
		return "[invalid-phone]"
	}
	return "***" + phone[len(phone)-2:]
}

// SanitizeQueryString reports whether a raw query string mentions anything
// credential-shaped, in which case the request log drops it wholesale.
func SanitizeQueryString(rawQuery string) bool {
	if rawQuery == "" {
		return false
	}

	query := strings.ToLower(rawQuery)
	for _, param := range []string{"password", "token", "secret", "email", "auth", "code", "otp"} {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
