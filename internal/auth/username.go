package auth

import (
	"fmt"
	"math/rand"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// normalizeLocalPart turns the local part of an email into a username base:
// accents stripped, lowercased, non-alphanumerics removed.
func normalizeLocalPart(email string) string {
	local := email
	if i := strings.IndexByte(email, '@'); i >= 0 {
		local = email[:i]
	}
	t := norm.NFD.String(local)
	var b strings.Builder
	for _, r := range t {
		if unicode.Is(unicode.Mn, r) {
			continue // remove accent marks
		}
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" {
		s = "user"
	}
	return s
}

// deriveUsername builds "<local-part><4 random digits>".
func deriveUsername(email string) string {
	return fmt.Sprintf("%s%04d", normalizeLocalPart(email), rand.Intn(10000))
}
