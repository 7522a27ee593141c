package server

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"fabline/internal/domain"
	"fabline/internal/engine"
)

// Request payloads. Money fields travel as decimal strings.

type CreateProductRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Unit string `json:"unit,omitempty"`
	Note string `json:"note,omitempty"`
}

type RoutingStepRequest struct {
	Sequence    int    `json:"sequence"`
	ProcessName string `json:"process_name"`
	Mode        string `json:"mode,omitempty"`
	PartnerName string `json:"partner_name,omitempty"`
	UnitCost    string `json:"unit_cost,omitempty" example:"12.50"`
}

type CreatePartnerRequest struct {
	Name    string `json:"name"`
	Kind    string `json:"kind,omitempty" enum:"CUSTOMER,SUPPLIER,OUTSOURCER"`
	Contact string `json:"contact,omitempty"`
}

type SalesOrderItemRequest struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price,omitempty" example:"99.90"`
}

type CreateSalesOrderRequest struct {
	PartnerID *int64                  `json:"partner_id,omitempty"`
	OrderDate string                  `json:"order_date,omitempty" format:"date"`
	Note      string                  `json:"note,omitempty"`
	Items     []SalesOrderItemRequest `json:"items"`
}

type CreateReplenishmentRequest struct {
	ProductID   int64  `json:"product_id"`
	Quantity    int    `json:"quantity"`
	RequestDate string `json:"request_date,omitempty" format:"date"`
	TargetDate  string `json:"target_date,omitempty" format:"date"`
	Note        string `json:"note,omitempty"`
}

type PlanItemRequest struct {
	ID            int64  `json:"id,omitempty"`
	ProductID     int64  `json:"product_id"`
	ProcessName   string `json:"process_name"`
	Sequence      int    `json:"sequence"`
	Mode          string `json:"mode,omitempty"`
	Quantity      int    `json:"quantity"`
	PartnerName   string `json:"partner_name,omitempty"`
	EstimatedCost string `json:"estimated_cost,omitempty" example:"250.00"`
	WorkerID      *int64 `json:"worker_id,omitempty"`
	EquipmentID   *int64 `json:"equipment_id,omitempty"`
	StartDate     string `json:"start_date,omitempty" format:"date"`
	EndDate       string `json:"end_date,omitempty" format:"date"`
	Note          string `json:"note,omitempty"`
}

type CreatePlanRequest struct {
	SalesOrderID    *int64            `json:"sales_order_id,omitempty"`
	ReplenishmentID *int64            `json:"replenishment_id,omitempty"`
	PlanDate        string            `json:"plan_date,omitempty" format:"date"`
	Note            string            `json:"note,omitempty"`
	Items           []PlanItemRequest `json:"items,omitempty"`
}

type UpdatePlanRequest struct {
	PlanDate *string            `json:"plan_date,omitempty" format:"date"`
	Note     *string            `json:"note,omitempty"`
	Items    *[]PlanItemRequest `json:"items,omitempty"`
}

type SetPlanStatusRequest struct {
	Status string `json:"status"`
}

type UpdatePlanItemRequest struct {
	ProcessName *string `json:"process_name,omitempty"`
	Sequence    *int    `json:"sequence,omitempty"`
	Quantity    *int    `json:"quantity,omitempty"`
	PartnerName *string `json:"partner_name,omitempty"`
	Status      *string `json:"status,omitempty"`
	WorkerID    *int64  `json:"worker_id,omitempty"`
	EquipmentID *int64  `json:"equipment_id,omitempty"`
	StartDate   *string `json:"start_date,omitempty" format:"date"`
	EndDate     *string `json:"end_date,omitempty" format:"date"`
	Note        *string `json:"note,omitempty"`
}

type CreateWorkLogRequest struct {
	WorkerID *int64 `json:"worker_id,omitempty"`
	WorkDate string `json:"work_date,omitempty" format:"date"`
	Quantity int    `json:"quantity"`
	Note     string `json:"note,omitempty"`
}

type CreateDefectRequest struct {
	PlanItemID int64  `json:"plan_item_id"`
	DefectType string `json:"defect_type"`
	Quantity   int    `json:"quantity"`
	Note       string `json:"note,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type RoutingStepResponse struct {
	ID          int64  `json:"id"`
	ProductID   int64  `json:"product_id"`
	Sequence    int    `json:"sequence"`
	ProcessName string `json:"process_name"`
	Mode        string `json:"mode" enum:"INTERNAL,PURCHASE,OUTSOURCING"`
	PartnerName string `json:"partner_name,omitempty"`
	UnitCost    string `json:"unit_cost"`
}

type SalesOrderItemResponse struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type SalesOrderResponse struct {
	ID        int64                    `json:"id"`
	OrderNo   string                   `json:"order_no"`
	PartnerID *int64                   `json:"partner_id,omitempty"`
	OrderDate string                   `json:"order_date,omitempty" format:"date"`
	Status    string                   `json:"status" enum:"PENDING,CONFIRMED,PRODUCTION_COMPLETED,CANCELED"`
	Note      string                   `json:"note,omitempty"`
	CreatedAt string                   `json:"created_at" format:"date-time"`
	Items     []SalesOrderItemResponse `json:"items"`
}

type PlanItemResponse struct {
	ID            int64  `json:"id"`
	PlanID        int64  `json:"plan_id"`
	ProductID     int64  `json:"product_id"`
	ProcessName   string `json:"process_name"`
	Sequence      int    `json:"sequence"`
	Mode          string `json:"mode" enum:"INTERNAL,PURCHASE,OUTSOURCING"`
	Quantity      int    `json:"quantity"`
	PartnerName   string `json:"partner_name,omitempty"`
	EstimatedCost string `json:"estimated_cost"`
	Status        string `json:"status" enum:"PLANNED,IN_PROGRESS,COMPLETED,CANCELED"`
	WorkerID      *int64 `json:"worker_id,omitempty"`
	EquipmentID   *int64 `json:"equipment_id,omitempty"`
	StartDate     string `json:"start_date,omitempty" format:"date"`
	EndDate       string `json:"end_date,omitempty" format:"date"`
	Note          string `json:"note,omitempty"`
}

type PlanResponse struct {
	ID              int64              `json:"id"`
	SalesOrderID    *int64             `json:"sales_order_id,omitempty"`
	ReplenishmentID *int64             `json:"replenishment_id,omitempty"`
	PlanDate        string             `json:"plan_date,omitempty" format:"date"`
	Status          string             `json:"status" enum:"PLANNED,IN_PROGRESS,COMPLETED,CANCELED"`
	Note            string             `json:"note,omitempty"`
	CreatedAt       string             `json:"created_at" format:"date-time"`
	UpdatedAt       string             `json:"updated_at" format:"date-time"`
	Items           []PlanItemResponse `json:"items"`
}

type OrderLineResponse struct {
	ID               int64  `json:"id"`
	OrderID          int64  `json:"order_id"`
	ProductID        int64  `json:"product_id"`
	PlanItemID       *int64 `json:"plan_item_id,omitempty"`
	OrderedQuantity  int    `json:"ordered_quantity"`
	ReceivedQuantity int    `json:"received_quantity"`
	UnitPrice        string `json:"unit_price"`
	Status           string `json:"status" enum:"PENDING,IN_PROGRESS,COMPLETED,CANCELED"`
}

type OrderResponse struct {
	ID           int64               `json:"id"`
	Kind         string              `json:"kind" enum:"purchase,outsourcing"`
	OrderNo      string              `json:"order_no"`
	PartnerID    *int64              `json:"partner_id,omitempty"`
	PartnerName  string              `json:"partner_name,omitempty"`
	Status       string              `json:"status" enum:"PENDING,IN_PROGRESS,COMPLETED,CANCELED"`
	OrderDate    string              `json:"order_date,omitempty" format:"date"`
	DeliveryDate *string             `json:"delivery_date,omitempty" format:"date"`
	CreatedAt    string              `json:"created_at" format:"date-time"`
	Items        []OrderLineResponse `json:"items"`
}

type WorkLogResponse struct {
	ID         int64  `json:"id"`
	PlanItemID int64  `json:"plan_item_id"`
	WorkerID   *int64 `json:"worker_id,omitempty"`
	WorkDate   string `json:"work_date,omitempty" format:"date"`
	Quantity   int    `json:"quantity"`
	Note       string `json:"note,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type APIKeyResponse struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	// Key is the plaintext secret, returned exactly once at creation.
	Key       string `json:"key"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Conversion helpers

func routingStepResponse(s domain.RoutingStep) RoutingStepResponse {
	return RoutingStepResponse{
		ID:          s.ID,
		ProductID:   s.ProductID,
		Sequence:    s.Sequence,
		ProcessName: s.ProcessName,
		Mode:        s.Mode,
		PartnerName: s.PartnerName,
		UnitCost:    s.UnitCost.String(),
	}
}

func mapRoutingSteps(in []domain.RoutingStep) []RoutingStepResponse {
	res := make([]RoutingStepResponse, 0, len(in))
	for _, s := range in {
		res = append(res, routingStepResponse(s))
	}
	return res
}

func salesOrderResponse(so domain.SalesOrder) SalesOrderResponse {
	items := make([]SalesOrderItemResponse, 0, len(so.Items))
	for _, it := range so.Items {
		items = append(items, SalesOrderItemResponse{
			ID:        it.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.String(),
		})
	}
	return SalesOrderResponse{
		ID:        so.ID,
		OrderNo:   so.OrderNo,
		PartnerID: so.PartnerID,
		OrderDate: so.OrderDate,
		Status:    so.Status,
		Note:      so.Note,
		CreatedAt: so.CreatedAt,
		Items:     items,
	}
}

func planItemResponse(it domain.PlanItem) PlanItemResponse {
	return PlanItemResponse{
		ID:            it.ID,
		PlanID:        it.PlanID,
		ProductID:     it.ProductID,
		ProcessName:   it.ProcessName,
		Sequence:      it.Sequence,
		Mode:          it.Mode,
		Quantity:      it.Quantity,
		PartnerName:   it.PartnerName,
		EstimatedCost: it.EstimatedCost.String(),
		Status:        it.Status,
		WorkerID:      it.WorkerID,
		EquipmentID:   it.EquipmentID,
		StartDate:     it.StartDate,
		EndDate:       it.EndDate,
		Note:          it.Note,
	}
}

func mapPlanItems(in []domain.PlanItem) []PlanItemResponse {
	res := make([]PlanItemResponse, 0, len(in))
	for _, it := range in {
		res = append(res, planItemResponse(it))
	}
	return res
}

func planResponse(p domain.Plan) PlanResponse {
	return PlanResponse{
		ID:              p.ID,
		SalesOrderID:    p.SalesOrderID,
		ReplenishmentID: p.ReplenishmentID,
		PlanDate:        p.PlanDate,
		Status:          p.Status,
		Note:            p.Note,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
		Items:           mapPlanItems(p.Items),
	}
}

func mapPlans(in []domain.Plan) []PlanResponse {
	res := make([]PlanResponse, 0, len(in))
	for _, p := range in {
		res = append(res, planResponse(p))
	}
	return res
}

func orderLineResponse(l domain.ExternalOrderItem) OrderLineResponse {
	return OrderLineResponse{
		ID:               l.ID,
		OrderID:          l.OrderID,
		ProductID:        l.ProductID,
		PlanItemID:       l.PlanItemID,
		OrderedQuantity:  l.OrderedQuantity,
		ReceivedQuantity: l.ReceivedQuantity,
		UnitPrice:        l.UnitPrice.String(),
		Status:           l.Status,
	}
}

func orderResponse(o domain.ExternalOrder) OrderResponse {
	items := make([]OrderLineResponse, 0, len(o.Items))
	for _, l := range o.Items {
		items = append(items, orderLineResponse(l))
	}
	return OrderResponse{
		ID:           o.ID,
		Kind:         o.Kind,
		OrderNo:      o.OrderNo,
		PartnerID:    o.PartnerID,
		PartnerName:  o.PartnerName,
		Status:       o.Status,
		OrderDate:    o.OrderDate,
		DeliveryDate: o.DeliveryDate,
		CreatedAt:    o.CreatedAt,
		Items:        items,
	}
}

func mapOrders(in []domain.ExternalOrder) []OrderResponse {
	res := make([]OrderResponse, 0, len(in))
	for _, o := range in {
		res = append(res, orderResponse(o))
	}
	return res
}

func workLogResponse(wl domain.WorkLog) WorkLogResponse {
	return WorkLogResponse(wl)
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func planItemInputs(in []PlanItemRequest) ([]engine.PlanItemInput, error) {
	res := make([]engine.PlanItemInput, 0, len(in))
	for _, r := range in {
		cost, err := parseMoney(r.EstimatedCost)
		if err != nil {
			return nil, err
		}
		res = append(res, engine.PlanItemInput{
			ID:            r.ID,
			ProductID:     r.ProductID,
			ProcessName:   r.ProcessName,
			Sequence:      r.Sequence,
			Mode:          r.Mode,
			Quantity:      r.Quantity,
			PartnerName:   r.PartnerName,
			EstimatedCost: cost,
			WorkerID:      r.WorkerID,
			EquipmentID:   r.EquipmentID,
			StartDate:     r.StartDate,
			EndDate:       r.EndDate,
			Note:          r.Note,
		})
	}
	return res, nil
}

func parseMoney(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: money value %q", domain.ErrInvalidInput, raw)
	}
	return d, nil
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
