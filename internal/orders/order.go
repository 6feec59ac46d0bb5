package orders

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rwamarkets/settlecore/pkg/amount"
)

var (
	ErrInvalidQuantity     = errors.New("quantity must be positive")
	ErrInvalidPrice        = errors.New("unit price must be positive")
	ErrArithmeticOverflow  = errors.New("total payment overflows")
	ErrInsufficientFunds   = errors.New("investor cannot cover total payment")
	ErrOrderNotFound       = errors.New("order not found")
	ErrDuplicateOrder      = errors.New("order already exists")
	ErrAlreadyProcessed    = errors.New("order already processed")
	ErrNotPending          = errors.New("order is not pending")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrComplianceRejected  = errors.New("investor not compliant for asset")
	ErrRejectReasonTooLong = errors.New("reject reason too long")
)

// MaxRejectReasonLen bounds the stored rejection reason.
const MaxRejectReasonLen = 200

// Status is the purchase order lifecycle state. Pending is the only
// non-terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// PurchaseOrder is one investor's funded purchase of an asset, jointly owned
// with its escrowed payment by the protocol until resolution.
type PurchaseOrder struct {
	ID           string     `json:"id"`
	Investor     string     `json:"investor"`
	Asset        string     `json:"asset"`
	Quantity     int64      `json:"quantity"`
	UnitPrice    int64      `json:"unit_price"`
	TotalPayment int64      `json:"total_payment"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy   string     `json:"resolved_by,omitempty"`
	RejectReason string     `json:"reject_reason,omitempty"`
	Version      int        `json:"version"`
}

// orderNamespace scopes deterministic order ids.
var orderNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("settlecore.purchase-order"))

// DeriveID derives the order id from (asset, investor, creation time). The
// derivation replaces a central sequence: identical inputs produce the same
// id, so a duplicate submission surfaces as ErrDuplicateOrder instead of a
// second order.
func DeriveID(asset, investor string, createdAt time.Time) string {
	seed := fmt.Sprintf("%s|%s|%d", asset, investor, createdAt.UnixNano())
	return uuid.NewSHA1(orderNamespace, []byte(seed)).String()
}

// checkedTotal computes quantity * unitPrice, surfacing int64 overflow as a
// validation error.
func checkedTotal(quantity, unitPrice int64) (int64, error) {
	total, err := amount.CheckedMul(quantity, unitPrice)
	if err != nil {
		return 0, fmt.Errorf("%w: %d x %d", ErrArithmeticOverflow, quantity, unitPrice)
	}
	return total, nil
}
