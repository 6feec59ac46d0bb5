package messaging

import "time"

// Event subjects
const (
	SubjectOrderCreated   = "orders.created"
	SubjectOrderApproved  = "orders.approved"
	SubjectOrderRejected  = "orders.rejected"
	SubjectOrderCancelled = "orders.cancelled"

	SubjectSettlementRecorded = "distribution.settlement_recorded"
	SubjectDistributionPayout = "distribution.payout"

	SubjectPrincipalAdded   = "registry.principal_added"
	SubjectPrincipalRemoved = "registry.principal_removed"
)

// OrderEvent carries a purchase order lifecycle transition. Amounts are
// string-encoded denomination units.
type OrderEvent struct {
	OrderID      string    `json:"order_id"`
	Investor     string    `json:"investor"`
	Asset        string    `json:"asset"`
	Quantity     string    `json:"quantity"`
	UnitPrice    string    `json:"unit_price"`
	TotalPayment string    `json:"total_payment"`
	Status       string    `json:"status"`
	ResolvedBy   string    `json:"resolved_by,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// DistributionEvent carries a pool accumulation or payout.
type DistributionEvent struct {
	Asset             string    `json:"asset"`
	Amount            string    `json:"amount"`
	Issuer            string    `json:"issuer,omitempty"`
	Caller            string    `json:"caller,omitempty"`
	DistributionCount int64     `json:"distribution_count,omitempty"`
	TotalDistributed  string    `json:"total_distributed,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// RegistryEvent carries an authorization allowlist change.
type RegistryEvent struct {
	Principal string    `json:"principal"`
	Caller    string    `json:"caller"`
	Timestamp time.Time `json:"timestamp"`
}
