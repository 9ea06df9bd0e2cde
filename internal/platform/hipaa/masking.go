package hipaa

import "strings"

// MaskNationalID keeps only the last four digits: "12345678900" -> "***.***.8900".
func MaskNationalID(v string) string {
	digits := onlyDigits(v)
	if digits == "" {
		return ""
	}
	return "***.***." + lastN(digits, 4)
}

// MaskPhone keeps only the last four digits: "(11) 98765-4321" -> "(**) *****-4321".
func MaskPhone(v string) string {
	digits := onlyDigits(v)
	if digits == "" {
		return ""
	}
	return "(**) *****-" + lastN(digits, 4)
}

// MaskEmail keeps the first character of the local part and the domain:
// "joao@example.com" -> "j***@example.com".
func MaskEmail(v string) string {
	local, domain, ok := strings.Cut(v, "@")
	if !ok || local == "" {
		return "***"
	}
	r := []rune(local)
	return string(r[0]) + "***@" + domain
}

func onlyDigits(v string) string {
	var b strings.Builder
	b.Grow(len(v))
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// lastN returns the last n characters of s. A value of n characters or
// fewer is masked down to its last character so short inputs never show
// in full.
func lastN(s string, n int) string {
	if len(s) <= n {
		return s[len(s)-1:]
	}
	return s[len(s)-n:]
}
