package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/rwamarkets/settlecore/internal/compliance"
	"github.com/rwamarkets/settlecore/internal/ledger"
	"github.com/rwamarkets/settlecore/internal/metrics"
	"github.com/rwamarkets/settlecore/pkg/messaging"
)

// AuthChecker answers whether a principal may approve or reject orders. The
// registry service satisfies it.
type AuthChecker interface {
	IsAuthorized(ctx context.Context, principal string) (bool, error)
}

// Service is the purchase order ledger: the state machine from creation to
// terminal resolution, with custody movements tied to every transition.
type Service struct {
	store    Store
	ledger   ledger.Ledger
	registry AuthChecker
	gate     compliance.Gate
	denom    string
	events   *messaging.Client
	metrics  metrics.Recorder
}

// NewService creates an order service. events may be nil; rec may be nil for
// no telemetry.
func NewService(store Store, l ledger.Ledger, reg AuthChecker, gate compliance.Gate,
	denom string, events *messaging.Client, rec metrics.Recorder) *Service {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Service{
		store:    store,
		ledger:   l,
		registry: reg,
		gate:     gate,
		denom:    denom,
		events:   events,
		metrics:  rec,
	}
}

// CreateRequest is the investor's purchase request.
type CreateRequest struct {
	Investor  string
	Asset     string
	Quantity  int64
	UnitPrice int64
}

// Create opens a Pending order and moves the full payment from the investor
// into the order's own escrow account. Escrow-first is intentional: an
// approver never needs to re-verify solvency. The funding and the record are
// one unit; if the record cannot be written the funding is compensated.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*PurchaseOrder, error) {
	if req.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if req.UnitPrice <= 0 {
		return nil, ErrInvalidPrice
	}

	total, err := checkedTotal(req.Quantity, req.UnitPrice)
	if err != nil {
		return nil, err
	}

	createdAt := time.Now()
	o := &PurchaseOrder{
		ID:           DeriveID(req.Asset, req.Investor, createdAt),
		Investor:     req.Investor,
		Asset:        req.Asset,
		Quantity:     req.Quantity,
		UnitPrice:    req.UnitPrice,
		TotalPayment: total,
		Status:       StatusPending,
		CreatedAt:    createdAt,
		Version:      1,
	}

	err = s.ledger.Transfer(ctx, ledger.Movement{
		From:      req.Investor,
		To:        ledger.EscrowOwner(o.ID),
		Denom:     s.denom,
		Amount:    total,
		Reference: o.ID,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return nil, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
		}
		return nil, err
	}

	if err := s.store.Create(ctx, o); err != nil {
		// Unwind the escrow funding so no value is stranded.
		rerr := s.ledger.Transfer(ctx, ledger.Movement{
			From:      ledger.EscrowOwner(o.ID),
			To:        req.Investor,
			Denom:     s.denom,
			Amount:    total,
			Reference: o.ID,
		})
		if rerr != nil {
			log.Printf("order %s: escrow refund failed after create error, %d %s stranded in %s: %v",
				o.ID, total, s.denom, ledger.EscrowOwner(o.ID), rerr)
			return nil, fmt.Errorf("order %s: create failed (%v) and escrow refund failed: %w", o.ID, err, rerr)
		}
		return nil, err
	}

	s.publishEvent(ctx, messaging.SubjectOrderCreated, o)
	return o, nil
}

// ApproveRequest resolves an order in the investor's favor.
type ApproveRequest struct {
	OrderID  string
	Approver string

	// InvestorAssetAccount optionally overrides where the asset tokens land.
	// Defaults to the investor's own account.
	InvestorAssetAccount string
}

// Approve settles a Pending order: asset tokens move from custody to the
// investor and the escrowed payment moves into the asset's pool vault, both
// in one atomic group, then the order is marked Approved. Requires an
// authorized approver and a passing compliance check; a compliance refusal
// leaves the order Pending so the approver can retry once the investor's
// status changes.
func (s *Service) Approve(ctx context.Context, req ApproveRequest) (*PurchaseOrder, error) {
	o, err := s.store.Get(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending {
		return nil, ErrAlreadyProcessed
	}

	if err := s.requireApprover(ctx, req.Approver); err != nil {
		return nil, err
	}

	allowed, err := s.gate.IsAuthorized(ctx, o.Investor, o.Asset)
	if err != nil {
		return nil, fmt.Errorf("compliance check failed: %w", err)
	}
	if !allowed {
		return nil, ErrComplianceRejected
	}

	assetDest := req.InvestorAssetAccount
	if assetDest == "" {
		assetDest = o.Investor
	}

	updated, err := s.store.Resolve(ctx, req.OrderID, StatusApproved, req.Approver, "",
		func(ctx context.Context, o *PurchaseOrder) error {
			return s.ledger.TransferGroup(ctx, []ledger.Movement{
				{
					From:      ledger.CustodyOwner(o.Asset),
					To:        assetDest,
					Denom:     o.Asset,
					Amount:    o.Quantity,
					Reference: o.ID,
				},
				{
					From:      ledger.EscrowOwner(o.ID),
					To:        ledger.VaultOwner(o.Asset),
					Denom:     s.denom,
					Amount:    o.TotalPayment,
					Reference: o.ID,
				},
			})
		})
	if err != nil {
		if errors.Is(err, ErrNotPending) {
			return nil, ErrAlreadyProcessed
		}
		return nil, err
	}

	s.metrics.OrderResolved(ctx, updated.Asset, string(StatusApproved), updated.TotalPayment)
	s.metrics.SettlementRecorded(ctx, updated.Asset, updated.TotalPayment)
	s.publishEvent(ctx, messaging.SubjectOrderApproved, updated)
	return updated, nil
}

// Reject resolves a Pending order against the investor, refunding the escrow
// in the same step. The reason is bounded and stored with the order.
func (s *Service) Reject(ctx context.Context, orderID, approver, reason string) (*PurchaseOrder, error) {
	if len(reason) > MaxRejectReasonLen {
		return nil, ErrRejectReasonTooLong
	}

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending {
		return nil, ErrAlreadyProcessed
	}

	if err := s.requireApprover(ctx, approver); err != nil {
		return nil, err
	}

	updated, err := s.resolveWithRefund(ctx, orderID, StatusRejected, approver, reason)
	if err != nil {
		if errors.Is(err, ErrNotPending) {
			return nil, ErrAlreadyProcessed
		}
		return nil, err
	}

	s.metrics.OrderResolved(ctx, updated.Asset, string(StatusRejected), updated.TotalPayment)
	s.publishEvent(ctx, messaging.SubjectOrderRejected, updated)
	return updated, nil
}

// Cancel lets the original investor withdraw a Pending order, refunding the
// escrow. No resolver is recorded.
func (s *Service) Cancel(ctx context.Context, orderID, investor string) (*PurchaseOrder, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Investor != investor {
		return nil, ErrUnauthorized
	}

	updated, err := s.resolveWithRefund(ctx, orderID, StatusCancelled, "", "")
	if err != nil {
		return nil, err
	}

	s.metrics.OrderResolved(ctx, updated.Asset, string(StatusCancelled), updated.TotalPayment)
	s.publishEvent(ctx, messaging.SubjectOrderCancelled, updated)
	return updated, nil
}

// Get returns one order.
func (s *Service) Get(ctx context.Context, orderID string) (*PurchaseOrder, error) {
	return s.store.Get(ctx, orderID)
}

// List returns orders matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*PurchaseOrder, error) {
	return s.store.List(ctx, f)
}

func (s *Service) resolveWithRefund(ctx context.Context, orderID string, to Status, resolvedBy, reason string) (*PurchaseOrder, error) {
	return s.store.Resolve(ctx, orderID, to, resolvedBy, reason,
		func(ctx context.Context, o *PurchaseOrder) error {
			return s.ledger.Transfer(ctx, ledger.Movement{
				From:      ledger.EscrowOwner(o.ID),
				To:        o.Investor,
				Denom:     s.denom,
				Amount:    o.TotalPayment,
				Reference: o.ID,
			})
		})
}

func (s *Service) requireApprover(ctx context.Context, approver string) error {
	ok, err := s.registry.IsAuthorized(ctx, approver)
	if err != nil {
		return fmt.Errorf("authorization check failed: %w", err)
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

func (s *Service) publishEvent(ctx context.Context, subject string, o *PurchaseOrder) {
	s.events.Publish(ctx, subject, messaging.OrderEvent{
		OrderID:      o.ID,
		Investor:     o.Investor,
		Asset:        o.Asset,
		Quantity:     strconv.FormatInt(o.Quantity, 10),
		UnitPrice:    strconv.FormatInt(o.UnitPrice, 10),
		TotalPayment: strconv.FormatInt(o.TotalPayment, 10),
		Status:       string(o.Status),
		ResolvedBy:   o.ResolvedBy,
		Reason:       o.RejectReason,
		Timestamp:    time.Now(),
	})
}
