package stock

import (
	"errors"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidQuantity    = errors.New("quantity must be greater than zero")
	ErrSameLocation       = errors.New("source and destination are the same location")
	ErrNotFound           = errors.New("branch or item not found")
	ErrRequestNotFound    = errors.New("stock request not found")
	ErrRequestExpired     = errors.New("stock request expired")
	ErrRequestNotPending  = errors.New("stock request already resolved")
	ErrWrongRequestSource = errors.New("stock request has a different source")
	ErrDuplicateRequest   = errors.New("a pending stock request for this item already exists")
)

type Unit string

type BranchStock struct {
	BranchID  int64           `json:"branch_id"`
	ItemID    int64           `json:"item_id"`
	ItemName  string          `json:"item_name,omitempty"`
	Unit      Unit            `json:"unit,omitempty"`
	Quantity  decimal.Decimal `json:"quantity"`
	MinLevel  decimal.Decimal `json:"min_level"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Surplus is the amount a branch can give away without going under its
// minimum level.
func (s BranchStock) Surplus() decimal.Decimal {
	return s.Quantity.Sub(s.MinLevel)
}

type GodownStock struct {
	ItemID     int64           `json:"item_id"`
	ItemName   string          `json:"item_name,omitempty"`
	Unit       Unit            `json:"unit,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
	ExpiryDate *time.Time      `json:"expiry_date,omitempty"`
	IsExpired  bool            `json:"is_expired"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (g GodownStock) Expired(now time.Time) bool {
	if g.ExpiryDate == nil {
		return false
	}
	y, m, d := now.Date()
	return g.ExpiryDate.Before(time.Date(y, m, d, 0, 0, 0, 0, g.ExpiryDate.Location()))
}

// Location addresses one stock pool: a branch, or the single godown.
type Location struct {
	Godown   bool
	BranchID int64
}

func AtBranch(branchID int64) Location {
	return Location{BranchID: branchID}
}

func AtGodown() Location {
	return Location{Godown: true}
}

// before gives the global lock order: godown first, then branches by id.
func (l Location) before(o Location) bool {
	if l.Godown != o.Godown {
		return l.Godown
	}
	return l.BranchID < o.BranchID
}

type Source string

const (
	SourceBranch Source = "branch"
	SourceGodown Source = "godown"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
	RequestTimeout  RequestStatus = "timeout"
)

func (s RequestStatus) String() string {
	return string(s)
}

// Request asks for Quantity of ItemID to be moved into OriginBranchID, either
// from DonorBranchID (peer request) or from the godown.
type Request struct {
	ID             uuid.UUID       `json:"id"`
	OriginBranchID int64           `json:"origin_branch_id"`
	DonorBranchID  *int64          `json:"donor_branch_id,omitempty"`
	ItemID         int64           `json:"item_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	Source         Source          `json:"source"`
	Status         RequestStatus   `json:"status"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	ParentID       *uuid.UUID      `json:"parent_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
}

func NewPeerRequest(origin, donor, itemID int64, qty decimal.Decimal, now time.Time, ttl time.Duration) (*Request, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	expires := now.Add(ttl)
	return &Request{
		ID:             id,
		OriginBranchID: origin,
		DonorBranchID:  &donor,
		ItemID:         itemID,
		Quantity:       qty,
		Source:         SourceBranch,
		Status:         RequestPending,
		ExpiresAt:      &expires,
		CreatedAt:      now,
	}, nil
}

func NewGodownRequest(origin, itemID int64, qty decimal.Decimal, now time.Time) (*Request, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	return &Request{
		ID:             id,
		OriginBranchID: origin,
		ItemID:         itemID,
		Quantity:       qty,
		Source:         SourceGodown,
		Status:         RequestPending,
		CreatedAt:      now,
	}, nil
}

// Fallback builds the godown request that replaces a rejected or timed out
// peer request.
func (r *Request) Fallback(now time.Time) (*Request, error) {
	if r.Source != SourceBranch {
		return nil, ErrWrongRequestSource
	}
	fb, err := NewGodownRequest(r.OriginBranchID, r.ItemID, r.Quantity, now)
	if err != nil {
		return nil, err
	}
	parent := r.ID
	fb.ParentID = &parent
	return fb, nil
}

// Expired reports whether now is past the deadline. Godown requests never
// expire.
func (r *Request) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// CheckPeerResponse validates that a donor may still approve or reject r.
func (r *Request) CheckPeerResponse(now time.Time) error {
	if r.Source != SourceBranch {
		return ErrWrongRequestSource
	}
	if r.Status != RequestPending {
		return ErrRequestNotPending
	}
	if r.Expired(now) {
		return ErrRequestExpired
	}
	return nil
}

func (r *Request) CheckGodownResponse() error {
	if r.Source != SourceGodown {
		return ErrWrongRequestSource
	}
	if r.Status != RequestPending {
		return ErrRequestNotPending
	}
	return nil
}

func (r *Request) Resolve(status RequestStatus, now time.Time) {
	r.Status = status
	r.ResolvedAt = &now
}

// PickDonor returns the first candidate, in the given order, that is not the
// requesting branch, holds more than qty and whose surplus covers qty.
func PickDonor(candidates []BranchStock, origin int64, qty decimal.Decimal) (int64, bool) {
	for _, c := range candidates {
		if c.BranchID == origin || !c.Quantity.GreaterThan(qty) {
			continue
		}
		if c.Surplus().GreaterThanOrEqual(qty) {
			return c.BranchID, true
		}
	}
	return 0, false
}

// QuantityPlaces is the scale of every stored stock quantity.
const QuantityPlaces = 2

// ValidQuantity reports whether q is positive and representable in a stock
// column without rounding.
func ValidQuantity(q decimal.Decimal) bool {
	return q.IsPositive() && q.Equal(q.Round(QuantityPlaces))
}

type Movement struct {
	From       Location        `json:"-"`
	To         Location        `json:"-"`
	ItemID     int64           `json:"item_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	FromBefore decimal.Decimal `json:"from_before"`
	ToBefore   decimal.Decimal `json:"to_before"`
}

type SweepResult struct {
	Expired   int `json:"expired"`
	Fallbacks int `json:"fallbacks"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}
