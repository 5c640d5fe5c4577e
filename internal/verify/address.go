package verify

import "regexp"

// addressPattern is the ledger account grammar: 56 characters, leading G,
// remainder drawn from the Base32 alphabet used by Stellar-family ledgers.
var addressPattern = regexp.MustCompile(`^G[A-Z2-7]{55}$`)

// ValidAddress reports whether s is a well-formed wallet address. No
// trimming happens here; callers normalise their input first.
func ValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}
