package engine

import (
	"context"
	"database/sql"
	"fmt"

	"fabline/internal/domain"
	"fabline/internal/events"
)

// ensurePlanTransition guards the plan state machine: forward
// PLANNED -> IN_PROGRESS -> COMPLETED, rollback COMPLETED -> IN_PROGRESS,
// and CANCELED from any non-terminal state. PLANNED may complete directly so
// a plan whose items finished without an explicit start does not dead-end.
func ensurePlanTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.StatusPlanned:
		if newStatus == domain.StatusInProgress || newStatus == domain.StatusCompleted || newStatus == domain.StatusCanceled {
			return nil
		}
	case domain.StatusInProgress:
		if newStatus == domain.StatusCompleted || newStatus == domain.StatusCanceled {
			return nil
		}
	case domain.StatusCompleted:
		if newStatus == domain.StatusInProgress {
			return nil
		}
	}
	return fmt.Errorf("%w: plan transition %s -> %s", domain.ErrInvalidState, oldStatus, newStatus)
}

// SetPlanStatus drives the plan through its state machine and keeps linked
// orders, stock counters, and the demand reference synchronized. The raw
// status may be a legacy synonym; it is normalized before the transition
// check. All lookups happen before the first write.
func (e Engine) SetPlanStatus(ctx context.Context, planID int64, rawStatus, actorID string) (domain.Plan, error) {
	status, err := domain.ParsePlanStatus(rawStatus)
	if err != nil {
		return domain.Plan{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Plan{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPlanTx(ctx, tx, planID)
	if err != nil {
		return domain.Plan{}, err
	}
	if err := ensurePlanTransition(p.Status, status); err != nil {
		return domain.Plan{}, err
	}

	oldStatus := p.Status
	switch status {
	case domain.StatusInProgress:
		if oldStatus == domain.StatusCompleted {
			if err := e.rollbackPlanTx(ctx, tx, p); err != nil {
				return domain.Plan{}, err
			}
		} else {
			if err := e.startDemandTx(ctx, tx, p); err != nil {
				return domain.Plan{}, err
			}
		}
	case domain.StatusCompleted:
		if err := e.completePlanTx(ctx, tx, p); err != nil {
			return domain.Plan{}, err
		}
	case domain.StatusCanceled:
		if err := e.cancelPlanTx(ctx, tx, p); err != nil {
			return domain.Plan{}, err
		}
	}

	now := e.timestamp()
	if err := e.Repo.UpdatePlanStatusTx(ctx, tx, p.ID, status, now); err != nil {
		return domain.Plan{}, err
	}
	if err := e.Events.Append(ctx, tx, "plan.status", "plan", fmt.Sprint(p.ID), actorID, events.EventPayload{
		"from": oldStatus,
		"to":   status,
	}); err != nil {
		return domain.Plan{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Plan{}, err
	}
	e.metrics().RecordPlanTransition(oldStatus, status)
	e.log().Infof("plan %d: %s -> %s", p.ID, oldStatus, status)

	p.Status = status
	p.UpdatedAt = now
	p.Items, err = e.Repo.ListPlanItems(ctx, p.ID)
	return p, err
}

// startDemandTx advances the demand reference when production begins: a
// sales order becomes CONFIRMED, a replenishment IN_PROGRESS.
func (e Engine) startDemandTx(ctx context.Context, tx *sql.Tx, p domain.Plan) error {
	if p.SalesOrderID != nil {
		so, err := e.Repo.GetSalesOrderTx(ctx, tx, *p.SalesOrderID)
		if err != nil {
			return err
		}
		if so.Status == domain.SalesPending {
			return e.Repo.UpdateSalesOrderStatusTx(ctx, tx, so.ID, domain.SalesConfirmed)
		}
		return nil
	}
	rep, err := e.Repo.GetReplenishmentTx(ctx, tx, *p.ReplenishmentID)
	if err != nil {
		return err
	}
	if rep.Status == domain.ReplenishPending {
		return e.Repo.UpdateReplenishmentStatusTx(ctx, tx, rep.ID, domain.ReplenishInProgress)
	}
	return nil
}

// completePlanTx performs the full completion fan-out: every linked order
// line is forced to fully received, orders whose lines are all received
// close with a delivery date, demand quantity moves from in-production to
// on-hand, items complete, and the demand reference advances.
func (e Engine) completePlanTx(ctx context.Context, tx *sql.Tx, p domain.Plan) error {
	now := e.timestamp()
	today := e.dateStamp()

	for _, kind := range []string{domain.OrderKindPurchase, domain.OrderKindOutsourcing} {
		lines, err := e.Repo.ListLinesForPlanTx(ctx, tx, kind, p.ID)
		if err != nil {
			return err
		}
		touched := map[int64]bool{}
		for _, l := range lines {
			if err := e.Repo.SetLineReceivedTx(ctx, tx, kind, l.ID, l.OrderedQuantity, domain.OrderCompleted); err != nil {
				return err
			}
			touched[l.OrderID] = true
		}
		for orderID := range touched {
			closed, err := e.orderFullyReceivedTx(ctx, tx, kind, orderID)
			if err != nil {
				return err
			}
			if closed {
				if err := e.Repo.SetOrderStatusTx(ctx, tx, kind, orderID, domain.OrderCompleted, &today); err != nil {
					return err
				}
			}
		}
	}

	items, err := e.Repo.ListPlanItemsTx(ctx, tx, p.ID)
	if err != nil {
		return err
	}
	for _, it := range items {
		if it.Status == domain.StatusCanceled || it.Status == domain.StatusCompleted {
			continue
		}
		if err := e.Repo.UpdatePlanItemStatusTx(ctx, tx, it.ID, domain.StatusCompleted); err != nil {
			return err
		}
	}

	demand, err := e.demandProductsTx(ctx, tx, p)
	if err != nil {
		return err
	}
	for _, d := range demand {
		if err := e.Repo.CompleteStockTx(ctx, tx, d.ProductID, d.Quantity, now); err != nil {
			return err
		}
		e.metrics().RecordStockMutation("complete")
	}

	if p.SalesOrderID != nil {
		return e.Repo.UpdateSalesOrderStatusTx(ctx, tx, *p.SalesOrderID, domain.SalesProductionCompleted)
	}
	return e.Repo.UpdateReplenishmentStatusTx(ctx, tx, *p.ReplenishmentID, domain.ReplenishCompleted)
}

// rollbackPlanTx reverses completePlanTx: lines back to PENDING with zero
// received, orders reopened with the delivery date cleared, stock moved back
// on-hand -> in-production (zero-clamped), items and demand reverted.
func (e Engine) rollbackPlanTx(ctx context.Context, tx *sql.Tx, p domain.Plan) error {
	now := e.timestamp()

	for _, kind := range []string{domain.OrderKindPurchase, domain.OrderKindOutsourcing} {
		lines, err := e.Repo.ListLinesForPlanTx(ctx, tx, kind, p.ID)
		if err != nil {
			return err
		}
		touched := map[int64]bool{}
		for _, l := range lines {
			if err := e.Repo.SetLineReceivedTx(ctx, tx, kind, l.ID, 0, domain.OrderPending); err != nil {
				return err
			}
			touched[l.OrderID] = true
		}
		for orderID := range touched {
			if err := e.Repo.SetOrderStatusTx(ctx, tx, kind, orderID, domain.OrderPending, nil); err != nil {
				return err
			}
		}
	}

	items, err := e.Repo.ListPlanItemsTx(ctx, tx, p.ID)
	if err != nil {
		return err
	}
	for _, it := range items {
		if it.Status == domain.StatusCanceled {
			continue
		}
		if err := e.Repo.UpdatePlanItemStatusTx(ctx, tx, it.ID, domain.StatusInProgress); err != nil {
			return err
		}
	}

	demand, err := e.demandProductsTx(ctx, tx, p)
	if err != nil {
		return err
	}
	for _, d := range demand {
		if err := e.Repo.UncompleteStockTx(ctx, tx, d.ProductID, d.Quantity, now); err != nil {
			return err
		}
		e.metrics().RecordStockMutation("uncomplete")
	}

	if p.SalesOrderID != nil {
		return e.Repo.UpdateSalesOrderStatusTx(ctx, tx, *p.SalesOrderID, domain.SalesConfirmed)
	}
	return e.Repo.UpdateReplenishmentStatusTx(ctx, tx, *p.ReplenishmentID, domain.ReplenishInProgress)
}

// cancelPlanTx releases the in-production reservation and cancels the items.
// Generated orders stay untouched; canceling them is a purchasing decision.
func (e Engine) cancelPlanTx(ctx context.Context, tx *sql.Tx, p domain.Plan) error {
	now := e.timestamp()
	demand, err := e.demandProductsTx(ctx, tx, p)
	if err != nil {
		return err
	}
	for _, d := range demand {
		if err := e.Repo.ReleaseStockTx(ctx, tx, d.ProductID, d.Quantity, now); err != nil {
			return err
		}
		e.metrics().RecordStockMutation("release")
	}
	items, err := e.Repo.ListPlanItemsTx(ctx, tx, p.ID)
	if err != nil {
		return err
	}
	for _, it := range items {
		if it.Status == domain.StatusCompleted || it.Status == domain.StatusCanceled {
			continue
		}
		if err := e.Repo.UpdatePlanItemStatusTx(ctx, tx, it.ID, domain.StatusCanceled); err != nil {
			return err
		}
	}
	return nil
}

func (e Engine) orderFullyReceivedTx(ctx context.Context, tx *sql.Tx, kind string, orderID int64) (bool, error) {
	lines, err := e.Repo.ListOrderItemsTx(ctx, tx, kind, orderID)
	if err != nil {
		return false, err
	}
	for _, l := range lines {
		if l.Status == domain.OrderCanceled {
			continue
		}
		if l.ReceivedQuantity < l.OrderedQuantity {
			return false, nil
		}
	}
	return true, nil
}
