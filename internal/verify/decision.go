package verify

import (
	"fmt"
	"strings"

	"github.com/Avantemaps-pi/avante-verifier-internal/internal/horizon"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/storage"
)

// Thresholds are the minimum activity counters a wallet must show.
type Thresholds struct {
	MinTotal    int
	MinCredited int
	MinUnique   int
}

// Decide applies the threshold rule to scanned counters. Approval requires
// all three thresholds; the rejection reason lists the failing predicates in
// the fixed order total, credited, unique. The exact wording is part of the
// public contract.
func Decide(c horizon.Counters, t Thresholds) (storage.VerificationStatus, string) {
	failTotal := c.Total < t.MinTotal
	failCredited := c.Credited < t.MinCredited
	failUnique := c.UniqueCounterparties < t.MinUnique

	if !failTotal && !failCredited && !failUnique {
		return storage.StatusApproved, ""
	}

	var parts []string
	switch {
	case failTotal && failCredited:
		parts = append(parts, fmt.Sprintf(
			"Insufficient total (%d/%d) and credited (%d/%d) transactions",
			c.Total, t.MinTotal, c.Credited, t.MinCredited))
	case failTotal:
		parts = append(parts, fmt.Sprintf(
			"Insufficient transactions (%d/%d)", c.Total, t.MinTotal))
	case failCredited:
		parts = append(parts, fmt.Sprintf(
			"Insufficient credited transactions (%d/%d)", c.Credited, t.MinCredited))
	}
	if failUnique {
		parts = append(parts, fmt.Sprintf(
			"Insufficient unique wallets (%d/%d)", c.UniqueCounterparties, t.MinUnique))
	}

	return storage.StatusRejected, strings.Join(parts, "; ")
}
