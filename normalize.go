package stackauth

import "strings"

// NormalizeEmail case-folds and trims an email address. Lookups and
// collision checks always compare normalized values so that accounts
// created with differently-cased addresses resolve identically, while
// freshly stored records keep the submitted casing.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone strips formatting characters from a phone number.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(phone) {
		switch r {
		case ' ', '-', '(', ')', '.':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeContactValue normalizes a contact value by channel type.
func NormalizeContactValue(t ContactType, value string) string {
	if t == ContactPhone {
		return NormalizePhone(value)
	}
	return NormalizeEmail(value)
}
