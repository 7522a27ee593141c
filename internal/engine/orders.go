package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"fabline/internal/domain"
	"fabline/internal/events"
)

func orderPrefix(kind string) (string, error) {
	switch kind {
	case domain.OrderKindPurchase:
		return "PO", nil
	case domain.OrderKindOutsourcing:
		return "OS", nil
	default:
		return "", fmt.Errorf("%w: order kind %q", domain.ErrInvalidInput, kind)
	}
}

// orderNumber builds a date-stamped order number. The suffix policy comes
// from config: a per-day sequence (PO-20240101-001) or a random uuid slice
// for deployments that generate orders concurrently.
func (e Engine) orderNumber(ctx context.Context, tx *sql.Tx, kind string) (string, error) {
	p, err := orderPrefix(kind)
	if err != nil {
		return "", err
	}
	prefix := fmt.Sprintf("%s-%s-", p, e.now().UTC().Format("20060102"))
	return e.documentNumber(ctx, prefix, func() (int, error) {
		return e.Repo.CountOrdersForDay(ctx, tx, kind, prefix)
	})
}

type orderGroup struct {
	kind        string
	partnerName string
	items       []domain.PlanItem
}

// generateOrdersTx partitions externally fulfilled plan items by
// (mode, partner) and creates one PENDING order per group, one line per item.
// Generation only appends order rows; item quantity and status are never
// touched here.
func (e Engine) generateOrdersTx(ctx context.Context, tx *sql.Tx, plan domain.Plan, items []domain.PlanItem, actorID string) ([]domain.ExternalOrder, error) {
	var groups []orderGroup
	index := map[string]int{}
	for _, it := range items {
		var kind string
		switch it.Mode {
		case domain.ModePurchase:
			kind = domain.OrderKindPurchase
		case domain.ModeOutsourcing:
			kind = domain.OrderKindOutsourcing
		default:
			continue
		}
		key := kind + "|" + it.PartnerName
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, orderGroup{kind: kind, partnerName: it.PartnerName})
		}
		groups[i].items = append(groups[i].items, it)
	}

	orderDate := plan.PlanDate
	if orderDate == "" {
		orderDate = e.dateStamp()
	}
	var orders []domain.ExternalOrder
	for _, g := range groups {
		orderNo, err := e.orderNumber(ctx, tx, g.kind)
		if err != nil {
			return nil, err
		}
		o := domain.ExternalOrder{
			Kind:        g.kind,
			OrderNo:     orderNo,
			PartnerName: g.partnerName,
			Status:      domain.OrderPending,
			OrderDate:   orderDate,
			CreatedAt:   e.timestamp(),
		}
		if g.partnerName != "" {
			o.PartnerID, err = e.Repo.FindPartnerByNameTx(ctx, tx, g.partnerName)
			if err != nil {
				return nil, err
			}
		}
		o.ID, err = e.Repo.InsertOrderTx(ctx, tx, o)
		if err != nil {
			return nil, err
		}
		for _, it := range g.items {
			itemID := it.ID
			unitPrice := decimal.Zero
			if it.Quantity > 0 {
				unitPrice = it.EstimatedCost.DivRound(decimal.NewFromInt(int64(it.Quantity)), 4)
			}
			line := domain.ExternalOrderItem{
				OrderID:         o.ID,
				ProductID:       it.ProductID,
				PlanItemID:      &itemID,
				OrderedQuantity: it.Quantity,
				UnitPrice:       unitPrice,
				Status:          domain.OrderPending,
			}
			line.ID, err = e.Repo.InsertOrderItemTx(ctx, tx, g.kind, line)
			if err != nil {
				return nil, err
			}
			o.Items = append(o.Items, line)
		}
		if err := e.Events.Append(ctx, tx, "order.generated", g.kind+"_order", fmt.Sprint(o.ID), actorID, events.EventPayload{
			"order_no": o.OrderNo,
			"plan_id":  plan.ID,
			"partner":  g.partnerName,
			"lines":    len(g.items),
		}); err != nil {
			return nil, err
		}
		e.metrics().RecordOrderGenerated(g.kind)
		orders = append(orders, o)
	}
	return orders, nil
}

// PendingItems lists externally fulfilled plan items that have no order line
// yet. Mode accepts legacy synonyms and must resolve to PURCHASE or
// OUTSOURCING.
func (e Engine) PendingItems(ctx context.Context, mode string) ([]domain.PlanItem, error) {
	normalized := domain.NormalizeMode(mode)
	if normalized == domain.ModeInternal {
		return nil, fmt.Errorf("%w: pending-items mode %q", domain.ErrInvalidInput, mode)
	}
	return e.Repo.ListPendingItems(ctx, normalized)
}
