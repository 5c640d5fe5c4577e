// Package horizon implements a read-only client for a Horizon-compatible
// ledger API. It scans an account's payment history page by page and reduces
// it to the counters the verification decision needs.
package horizon

// Counters is the reduced result of a full payment-history scan.
type Counters struct {
	// Total is the number of payment-type records seen, all directions.
	Total int

	// Credited is the number of records where the scanned wallet is the
	// receiver.
	Credited int

	// UniqueCounterparties is the number of distinct other wallets that
	// appear on the opposite side of a payment.
	UniqueCounterparties int
}

// paymentsPage mirrors the Horizon payments collection envelope.
type paymentsPage struct {
	Embedded struct {
		Records []paymentRecord `json:"records"`
	} `json:"_embedded"`
}

// paymentRecord carries the fields the scan reads from each operation.
// Horizon returns many more; they are ignored.
type paymentRecord struct {
	PagingToken string `json:"paging_token"`
	Type        string `json:"type"`
	From        string `json:"from"`
	To          string `json:"to"`
}

// countedTypes is the set of operation types treated as payments. Path
// payments move value exactly like plain payments, only the asset hops.
var countedTypes = map[string]bool{
	"payment":                     true,
	"path_payment":                true,
	"path_payment_strict_send":    true,
	"path_payment_strict_receive": true,
}
