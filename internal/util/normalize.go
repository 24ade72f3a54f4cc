package util

import (
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"
)

// NormalizeSender extracts and normalizes an email address from a From header.
// - Parses RFC 5322 "From" values like "Name <user+alias@Example.COM>"
// - Lowercases
// - Strips +alias in local part: user+news@x.com -> user@x.com
// Returns empty string if parsing fails or address is missing.
func NormalizeSender(fromHeader string) string {
	if fromHeader == "" {
		return ""
	}
	addr, err := mail.ParseAddress(fromHeader)
	if err != nil || addr == nil {
		// Some headers may be a list; try a crude fallback by splitting on comma.
		parts := strings.Split(fromHeader, ",")
		for _, p := range parts {
			p = strings.TrimSpace(p)
			a, e := mail.ParseAddress(p)
			if e == nil && a != nil {
				addr = a
				break
			}
		}
		if addr == nil {
			return ""
		}
	}

	email := strings.ToLower(strings.TrimSpace(addr.Address))
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return email
	}
	local := email[:at]
	domain := email[at+1:]

	// Strip +alias in local part.
	if plus := strings.IndexByte(local, '+'); plus > -1 {
		local = local[:plus]
	}
	// Some providers ignore dots in local part (e.g., Gmail). We WON'T remove dots
	// by default to avoid over-grouping across providers. Keep dots as-is.

	return local + "@" + domain
}

// IsSelfAddress reports whether header names the account owner. Both sides are
// normalized, so aliases and display names do not matter. With no known account
// address it falls back to Gmail's literal "me".
func IsSelfAddress(header, account string) bool {
	self := NormalizeSender(account)
	if self == "" {
		return strings.EqualFold(strings.TrimSpace(header), "me")
	}
	return NormalizeSender(header) == self
}

// SameAddress compares two headers by normalized address.
func SameAddress(a, b string) bool {
	na := NormalizeSender(a)
	return na != "" && na == NormalizeSender(b)
}

// Recipient splits an address header into a display name and a bare address.
// Without a display name the local part is title-cased: jane.doe@x.com -> "Jane Doe".
func Recipient(header string) (name, address string) {
	addr, err := mail.ParseAddress(strings.TrimSpace(header))
	if err != nil {
		for _, p := range strings.Split(header, ",") {
			if a, e := mail.ParseAddress(strings.TrimSpace(p)); e == nil {
				addr, err = a, nil
				break
			}
		}
	}
	if err != nil || addr == nil {
		return strings.TrimSpace(header), ""
	}
	if n := strings.Trim(strings.TrimSpace(addr.Name), `"'`); n != "" {
		return n, addr.Address
	}
	local := addr.Address
	if at := strings.IndexByte(local, '@'); at > 0 {
		local = local[:at]
	}
	parts := strings.FieldsFunc(local, func(r rune) bool { return r == '.' || r == '_' || r == '-' })
	for i, p := range parts {
		parts[i] = capitalize(p)
	}
	if len(parts) == 0 {
		return addr.Address, addr.Address
	}
	return strings.Join(parts, " "), addr.Address
}

// capitalize upper-cases the first rune of s.
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
