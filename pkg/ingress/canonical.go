package ingress

import "strings"

// canonicalSessionID derives a session identity from a raw phone number:
// digits only, leading '+' stripped. The result doubles
// as both sessionId and phoneNumber, since a session is keyed by phone
// number.
func canonicalSessionID(phoneNumber string) string {
	var b strings.Builder
	for _, r := range phoneNumber {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
