package order

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/tff-platform/internal/codes"
	"github.com/vasiliy-maslov/tff-platform/internal/stock"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrChefNotFound        = errors.New("chef not found")
	ErrBranchNotFound      = errors.New("branch or customer not found")
	ErrOrderNotAvailable   = errors.New("order is no longer available")
	ErrActiveOrderConflict = errors.New("chef already has an active order")
	ErrNotAssignedChef     = errors.New("order is assigned to another chef")
	ErrOrderNotPreparing   = errors.New("order is not being prepared")
	ErrOrderNotCancellable = errors.New("only pending orders can be cancelled")
	ErrInvalidQuantity     = errors.New("ingredient quantity must be greater than zero")
	ErrNoIngredients       = errors.New("at least one ingredient is required")
	ErrEmptyOrder          = errors.New("order must contain at least one item")
	ErrSequenceExhausted   = errors.New("daily order sequence exhausted")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

// accepted and ready are kept for the schema; the kitchen flow goes straight
// from pending to preparing to completed.
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusAccepted:  true,
		StatusPreparing: true,
		StatusCancelled: true,
	},
	StatusAccepted: {
		StatusPreparing: true,
	},
	StatusPreparing: {
		StatusReady:     true,
		StatusCompleted: true,
	},
	StatusReady: {
		StatusCompleted: true,
	},
	StatusCompleted: {},
	StatusCancelled: {},
}

func (s Status) CanTransitionTo(next Status) bool {
	return allowedTransitions[s][next]
}

// Active reports whether an order in this status occupies its chef.
func (s Status) Active() bool {
	switch s {
	case StatusAccepted, StatusPreparing, StatusReady:
		return true
	default:
		return false
	}
}

// Open reports whether an order in this status is still in flight.
func (s Status) Open() bool {
	return s == StatusPending || s.Active()
}

var statuses = []Status{StatusPending, StatusAccepted, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled}

// Statuses returns the names of the statuses matching keep, in lifecycle
// order, for use as a query parameter.
func Statuses(keep func(Status) bool) []string {
	var out []string
	for _, s := range statuses {
		if keep(s) {
			out = append(out, string(s))
		}
	}
	return out
}

type Item struct {
	ID           int64           `json:"id"`
	MenuItemID   int64           `json:"menu_item_id"`
	MenuItemName string          `json:"menu_item_name,omitempty"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Discount     decimal.Decimal `json:"discount"`
}

type IngredientUsage struct {
	ItemID   int64           `json:"item_id"`
	ItemName string          `json:"item_name,omitempty"`
	Quantity decimal.Decimal `json:"quantity"`
}

type Order struct {
	ID             int64             `json:"id"`
	Code           string            `json:"code"`
	CustomerID     int64             `json:"customer_id"`
	CustomerCode   string            `json:"customer_code"`
	BranchID       int64             `json:"branch_id"`
	BranchCode     string            `json:"branch_code"`
	AssignedChefID *int64            `json:"assigned_chef_id,omitempty"`
	ChefCode       string            `json:"assigned_chef_code,omitempty"`
	Subtotal       decimal.Decimal   `json:"subtotal"`
	CGST           decimal.Decimal   `json:"cgst"`
	SGST           decimal.Decimal   `json:"sgst"`
	Tax            decimal.Decimal   `json:"tax_amount"`
	Total          decimal.Decimal   `json:"total_amount"`
	Status         Status            `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	AcceptedAt     *time.Time        `json:"accepted_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	Items          []Item            `json:"items,omitempty"`
	Ingredients    []IngredientUsage `json:"ingredients,omitempty"`
}

// SetCodes renders the display codes for the ids the order references.
func (o *Order) SetCodes() {
	o.CustomerCode = codes.Customer(o.CustomerID)
	o.BranchCode = codes.Branch(o.BranchID)
	o.ChefCode = ""
	if o.AssignedChefID != nil {
		o.ChefCode = codes.Employee(*o.AssignedChefID)
	}
}

// Ticket is a kitchen view of a pending order.
type Ticket struct {
	Order
	CanAccept bool `json:"can_accept"`
}

// MarkFIFO turns pending orders, oldest first, into tickets where only the
// first one may be accepted.
func MarkFIFO(pending []Order) []Ticket {
	tickets := make([]Ticket, len(pending))
	for i, o := range pending {
		tickets[i] = Ticket{Order: o, CanAccept: i == 0}
	}
	return tickets
}

// MergeUsage validates reported ingredient lines, sums repeated items and
// sorts the result by item id, which is also the stock row lock order.
func MergeUsage(lines []IngredientUsage) ([]IngredientUsage, error) {
	if len(lines) == 0 {
		return nil, ErrNoIngredients
	}

	byItem := make(map[int64]decimal.Decimal, len(lines))
	for _, l := range lines {
		if !stock.ValidQuantity(l.Quantity) {
			return nil, ErrInvalidQuantity
		}
		byItem[l.ItemID] = byItem[l.ItemID].Add(l.Quantity)
	}

	merged := make([]IngredientUsage, 0, len(byItem))
	for id, qty := range byItem {
		merged = append(merged, IngredientUsage{ItemID: id, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ItemID < merged[j].ItemID })
	return merged, nil
}
