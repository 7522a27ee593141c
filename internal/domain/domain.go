package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Classification sentinels for rejected requests. Wrap with %w so callers
// can dispatch with errors.Is instead of parsing message text.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidState = errors.New("invalid state")
)

// Fulfillment modes for plan items and routing steps.
const (
	ModeInternal    = "INTERNAL"
	ModePurchase    = "PURCHASE"
	ModeOutsourcing = "OUTSOURCING"
)

// Production plan / plan item statuses.
const (
	StatusPlanned    = "PLANNED"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusCanceled   = "CANCELED"
)

// External order statuses.
const (
	OrderPending    = "PENDING"
	OrderInProgress = "IN_PROGRESS"
	OrderCompleted  = "COMPLETED"
	OrderCanceled   = "CANCELED"
)

// Sales order statuses.
const (
	SalesPending             = "PENDING"
	SalesConfirmed           = "CONFIRMED"
	SalesProductionCompleted = "PRODUCTION_COMPLETED"
	SalesCanceled            = "CANCELED"
)

// Stock replenishment request statuses.
const (
	ReplenishPending    = "PENDING"
	ReplenishInProgress = "IN_PROGRESS"
	ReplenishCompleted  = "COMPLETED"
	ReplenishCanceled   = "CANCELED"
)

// External order kinds, used to pick the purchase vs outsourcing tables.
const (
	OrderKindPurchase    = "purchase"
	OrderKindOutsourcing = "outsourcing"
)

// NormalizeMode maps a stored fulfillment mode to the closed enum.
// Legacy rows carry localized text ("구매", "외주 가공", ...); anything that
// cannot be classified as purchase or outsourcing counts as internal work,
// matching how legacy data was interpreted.
func NormalizeMode(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch s {
	case ModeInternal, ModePurchase, ModeOutsourcing:
		return s
	}
	switch {
	case strings.Contains(raw, "구매"):
		return ModePurchase
	case strings.Contains(raw, "외주"):
		return ModeOutsourcing
	default:
		return ModeInternal
	}
}

// ParsePlanStatus maps a stored or submitted status to the closed enum.
// Unlike modes, an unclassifiable status is an error.
func ParsePlanStatus(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch s {
	case StatusPlanned, StatusInProgress, StatusCompleted, StatusCanceled:
		return s, nil
	case "CANCELLED":
		return StatusCanceled, nil
	}
	switch {
	case strings.Contains(raw, "계획"):
		return StatusPlanned, nil
	case strings.Contains(raw, "진행"):
		return StatusInProgress, nil
	case strings.Contains(raw, "완료"):
		return StatusCompleted, nil
	case strings.Contains(raw, "취소"):
		return StatusCanceled, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, raw)
}

type Product struct {
	ID        int64  `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Unit      string `json:"unit,omitempty"`
	Note      string `json:"note,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// RoutingStep is one standard process step of a product's routing.
type RoutingStep struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	Sequence    int             `json:"sequence"`
	ProcessName string          `json:"process_name"`
	Mode        string          `json:"mode" enum:"INTERNAL,PURCHASE,OUTSOURCING"`
	PartnerName string          `json:"partner_name,omitempty"`
	UnitCost    decimal.Decimal `json:"-"`
}

type Partner struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind,omitempty" enum:"CUSTOMER,SUPPLIER,OUTSOURCER"`
	Contact   string `json:"contact,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type SalesOrder struct {
	ID        int64            `json:"id"`
	OrderNo   string           `json:"order_no"`
	PartnerID *int64           `json:"partner_id,omitempty"`
	OrderDate string           `json:"order_date,omitempty" format:"date"`
	Status    string           `json:"status" enum:"PENDING,CONFIRMED,PRODUCTION_COMPLETED,CANCELED"`
	Note      string           `json:"note,omitempty"`
	CreatedAt string           `json:"created_at" format:"date-time"`
	Items     []SalesOrderItem `json:"items,omitempty"`
}

type SalesOrderItem struct {
	ID           int64           `json:"id"`
	SalesOrderID int64           `json:"sales_order_id"`
	ProductID    int64           `json:"product_id"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"-"`
}

// Replenishment is a stock-replenishment request: internal demand for
// production without a sales order behind it.
type Replenishment struct {
	ID          int64  `json:"id"`
	RequestNo   string `json:"request_no"`
	ProductID   int64  `json:"product_id"`
	Quantity    int    `json:"quantity"`
	RequestDate string `json:"request_date,omitempty" format:"date"`
	TargetDate  string `json:"target_date,omitempty" format:"date"`
	Status      string `json:"status" enum:"PENDING,IN_PROGRESS,COMPLETED,CANCELED"`
	Note        string `json:"note,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Plan is the production-plan header for one unit of demand. Exactly one of
// SalesOrderID or ReplenishmentID is set.
type Plan struct {
	ID              int64      `json:"id"`
	SalesOrderID    *int64     `json:"sales_order_id,omitempty"`
	ReplenishmentID *int64     `json:"replenishment_id,omitempty"`
	PlanDate        string     `json:"plan_date,omitempty" format:"date"`
	Status          string     `json:"status" enum:"PLANNED,IN_PROGRESS,COMPLETED,CANCELED"`
	Note            string     `json:"note,omitempty"`
	CreatedAt       string     `json:"created_at" format:"date-time"`
	UpdatedAt       string     `json:"updated_at" format:"date-time"`
	Items           []PlanItem `json:"items,omitempty"`
}

type PlanItem struct {
	ID            int64           `json:"id"`
	PlanID        int64           `json:"plan_id"`
	ProductID     int64           `json:"product_id"`
	ProcessName   string          `json:"process_name"`
	Sequence      int             `json:"sequence"`
	Mode          string          `json:"mode" enum:"INTERNAL,PURCHASE,OUTSOURCING"`
	Quantity      int             `json:"quantity"`
	PartnerName   string          `json:"partner_name,omitempty"`
	EstimatedCost decimal.Decimal `json:"-"`
	Status        string          `json:"status" enum:"PLANNED,IN_PROGRESS,COMPLETED,CANCELED"`
	WorkerID      *int64          `json:"worker_id,omitempty"`
	EquipmentID   *int64          `json:"equipment_id,omitempty"`
	StartDate     string          `json:"start_date,omitempty" format:"date"`
	EndDate       string          `json:"end_date,omitempty" format:"date"`
	Note          string          `json:"note,omitempty"`
}

// ExternalOrder is a purchase or outsourcing order. Kind selects which
// table family the row lives in.
type ExternalOrder struct {
	ID           int64               `json:"id"`
	Kind         string              `json:"kind" enum:"purchase,outsourcing"`
	OrderNo      string              `json:"order_no"`
	PartnerID    *int64              `json:"partner_id,omitempty"`
	PartnerName  string              `json:"partner_name,omitempty"`
	Status       string              `json:"status" enum:"PENDING,IN_PROGRESS,COMPLETED,CANCELED"`
	OrderDate    string              `json:"order_date,omitempty" format:"date"`
	DeliveryDate *string             `json:"delivery_date,omitempty" format:"date"`
	CreatedAt    string              `json:"created_at" format:"date-time"`
	Items        []ExternalOrderItem `json:"items,omitempty"`
}

// ExternalOrderItem is one order line. PlanItemID is the soft back-reference
// to the plan item the line was generated for; manual lines carry none.
type ExternalOrderItem struct {
	ID               int64           `json:"id"`
	OrderID          int64           `json:"order_id"`
	ProductID        int64           `json:"product_id"`
	PlanItemID       *int64          `json:"plan_item_id,omitempty"`
	OrderedQuantity  int             `json:"ordered_quantity"`
	ReceivedQuantity int             `json:"received_quantity"`
	UnitPrice        decimal.Decimal `json:"-"`
	Status           string          `json:"status" enum:"PENDING,IN_PROGRESS,COMPLETED,CANCELED"`
}

// Stock holds the two per-product counters. Both are clamped at zero.
type Stock struct {
	ProductID            int64  `json:"product_id"`
	OnHandQuantity       int    `json:"on_hand_quantity"`
	InProductionQuantity int    `json:"in_production_quantity"`
	Location             string `json:"location,omitempty"`
	UpdatedAt            string `json:"updated_at,omitempty" format:"date-time"`
}

type WorkLog struct {
	ID         int64  `json:"id"`
	PlanItemID int64  `json:"plan_item_id"`
	WorkerID   *int64 `json:"worker_id,omitempty"`
	WorkDate   string `json:"work_date,omitempty" format:"date"`
	Quantity   int    `json:"quantity"`
	Note       string `json:"note,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Defect struct {
	ID         int64  `json:"id"`
	PlanItemID int64  `json:"plan_item_id"`
	DefectType string `json:"defect_type"`
	Quantity   int    `json:"quantity"`
	Note       string `json:"note,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// DemandRef identifies a plan's originating demand.
type DemandRef struct {
	SalesOrderID    *int64
	ReplenishmentID *int64
}

// Validate enforces the XOR invariant on the demand reference.
func (d DemandRef) Validate() error {
	if (d.SalesOrderID == nil) == (d.ReplenishmentID == nil) {
		return fmt.Errorf("%w: exactly one of sales_order_id or replenishment_id is required", ErrInvalidInput)
	}
	return nil
}
