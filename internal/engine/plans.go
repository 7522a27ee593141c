package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"fabline/internal/domain"
	"fabline/internal/events"
	"fabline/internal/repo"
)

// PlanItemInput is one requested plan item. Cost and partner default from the
// routing step when the item is expanded, and from the input when explicit.
type PlanItemInput struct {
	ID            int64
	ProductID     int64
	ProcessName   string
	Sequence      int
	Mode          string
	Quantity      int
	PartnerName   string
	EstimatedCost decimal.Decimal
	WorkerID      *int64
	EquipmentID   *int64
	StartDate     string
	EndDate       string
	Note          string
}

// PlanCreateOptions are parameters for creating a production plan.
type PlanCreateOptions struct {
	SalesOrderID    *int64
	ReplenishmentID *int64
	PlanDate        string
	Note            string
	Items           []PlanItemInput
	ActorID         string
}

// CreatePlan turns one unit of demand into a production plan. Creation is
// idempotent per demand reference: a second call returns the existing active
// plan untouched. Items come from the explicit list when given, otherwise
// from each demand product's routing; a product without routing contributes
// no items. External items are grouped into PENDING purchase/outsourcing
// orders in the same transaction.
func (e Engine) CreatePlan(ctx context.Context, opts PlanCreateOptions) (domain.Plan, error) {
	ref := domain.DemandRef{SalesOrderID: opts.SalesOrderID, ReplenishmentID: opts.ReplenishmentID}
	if err := ref.Validate(); err != nil {
		return domain.Plan{}, err
	}

	existing, err := e.Repo.FindActivePlanByDemand(ctx, ref)
	if err == nil {
		existing.Items, err = e.Repo.ListPlanItems(ctx, existing.ID)
		if err != nil {
			return domain.Plan{}, err
		}
		e.log().Debugf("plan create is a no-op, active plan %d exists", existing.ID)
		return existing, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Plan{}, err
	}

	// Demand lookup happens before any write so a bad reference cannot
	// leave a half-created plan behind.
	if ref.SalesOrderID != nil {
		so, err := e.Repo.GetSalesOrder(ctx, *ref.SalesOrderID)
		if err != nil {
			return domain.Plan{}, err
		}
		if so.Status == domain.SalesCanceled {
			return domain.Plan{}, fmt.Errorf("%w: sales order %d is canceled", domain.ErrInvalidInput, so.ID)
		}
	} else {
		rep, err := e.Repo.GetReplenishment(ctx, *ref.ReplenishmentID)
		if err != nil {
			return domain.Plan{}, err
		}
		if rep.Status == domain.ReplenishCanceled {
			return domain.Plan{}, fmt.Errorf("%w: replenishment %d is canceled", domain.ErrInvalidInput, rep.ID)
		}
	}

	now := e.timestamp()
	p := domain.Plan{
		SalesOrderID:    ref.SalesOrderID,
		ReplenishmentID: ref.ReplenishmentID,
		PlanDate:        opts.PlanDate,
		Status:          domain.StatusPlanned,
		Note:            opts.Note,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Plan{}, err
	}
	defer tx.Rollback()

	p.ID, err = e.Repo.InsertPlanTx(ctx, tx, p)
	if err != nil {
		return domain.Plan{}, err
	}

	demand, err := e.demandProductsTx(ctx, tx, p)
	if err != nil {
		return domain.Plan{}, err
	}

	var inputs []PlanItemInput
	if len(opts.Items) > 0 {
		inputs = opts.Items
	} else {
		for _, d := range demand {
			steps, err := e.Repo.ListRouting(ctx, d.ProductID)
			if err != nil {
				return domain.Plan{}, err
			}
			if len(steps) == 0 {
				e.log().Warnf("product %d has no routing, skipped during plan %d expansion", d.ProductID, p.ID)
				continue
			}
			for _, s := range steps {
				inputs = append(inputs, PlanItemInput{
					ProductID:     d.ProductID,
					ProcessName:   s.ProcessName,
					Sequence:      s.Sequence,
					Mode:          s.Mode,
					Quantity:      d.Quantity,
					PartnerName:   s.PartnerName,
					EstimatedCost: s.UnitCost.Mul(decimal.NewFromInt(int64(d.Quantity))),
				})
			}
		}
	}

	for _, in := range inputs {
		it := domain.PlanItem{
			PlanID:        p.ID,
			ProductID:     in.ProductID,
			ProcessName:   in.ProcessName,
			Sequence:      in.Sequence,
			Mode:          domain.NormalizeMode(in.Mode),
			Quantity:      in.Quantity,
			PartnerName:   in.PartnerName,
			EstimatedCost: in.EstimatedCost,
			Status:        domain.StatusPlanned,
			WorkerID:      in.WorkerID,
			EquipmentID:   in.EquipmentID,
			StartDate:     in.StartDate,
			EndDate:       in.EndDate,
			Note:          in.Note,
		}
		it.ID, err = e.Repo.InsertPlanItemTx(ctx, tx, it)
		if err != nil {
			return domain.Plan{}, err
		}
		p.Items = append(p.Items, it)
	}

	for _, d := range demand {
		if err := e.Repo.ReserveStockTx(ctx, tx, d.ProductID, d.Quantity, now); err != nil {
			return domain.Plan{}, err
		}
		e.metrics().RecordStockMutation("reserve")
	}

	if _, err := e.generateOrdersTx(ctx, tx, p, p.Items, opts.ActorID); err != nil {
		return domain.Plan{}, err
	}

	if err := e.Events.Append(ctx, tx, "plan.created", "plan", fmt.Sprint(p.ID), opts.ActorID, events.EventPayload{
		"status": p.Status,
		"items":  len(p.Items),
	}); err != nil {
		return domain.Plan{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Plan{}, err
	}
	e.log().Infof("plan %d created with %d items", p.ID, len(p.Items))
	return p, nil
}

// PlanUpdateOptions are parameters for updating a plan header and,
// optionally, its item list.
type PlanUpdateOptions struct {
	PlanID   int64
	PlanDate *string
	Note     *string
	// Items, when non-nil, is the desired item list: matched ids are
	// updated, zero-id entries appended, missing ones removed.
	Items   *[]PlanItemInput
	ActorID string
}

// UpdatePlan merges header fields and reconciles the item list by id. An item
// cannot be removed while order lines still reference it.
func (e Engine) UpdatePlan(ctx context.Context, opts PlanUpdateOptions) (domain.Plan, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Plan{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPlanTx(ctx, tx, opts.PlanID)
	if err != nil {
		return domain.Plan{}, err
	}
	if p.Status == domain.StatusCompleted || p.Status == domain.StatusCanceled {
		return domain.Plan{}, fmt.Errorf("%w: plan %d is %s", domain.ErrInvalidState, p.ID, p.Status)
	}

	p.PlanDate = optionalString(opts.PlanDate, p.PlanDate)
	p.Note = optionalString(opts.Note, p.Note)
	p.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdatePlanHeaderTx(ctx, tx, p); err != nil {
		return domain.Plan{}, err
	}

	if opts.Items != nil {
		if err := e.reconcileItemsTx(ctx, tx, &p, *opts.Items); err != nil {
			return domain.Plan{}, err
		}
	}

	if err := e.Events.Append(ctx, tx, "plan.updated", "plan", fmt.Sprint(p.ID), opts.ActorID, nil); err != nil {
		return domain.Plan{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Plan{}, err
	}
	if p.Items == nil {
		p.Items, err = e.Repo.ListPlanItems(ctx, p.ID)
		if err != nil {
			return domain.Plan{}, err
		}
	}
	return p, nil
}

func (e Engine) reconcileItemsTx(ctx context.Context, tx *sql.Tx, p *domain.Plan, inputs []PlanItemInput) error {
	existing, err := e.Repo.ListPlanItemsTx(ctx, tx, p.ID)
	if err != nil {
		return err
	}
	current := map[int64]domain.PlanItem{}
	for _, it := range existing {
		current[it.ID] = it
	}

	var kept []domain.PlanItem
	for _, in := range inputs {
		if in.ID != 0 {
			it, ok := current[in.ID]
			if !ok {
				return fmt.Errorf("plan item %d not in plan %d: %w", in.ID, p.ID, repo.ErrNotFound)
			}
			delete(current, in.ID)
			it.ProductID = in.ProductID
			it.ProcessName = in.ProcessName
			it.Sequence = in.Sequence
			it.Quantity = in.Quantity
			it.PartnerName = in.PartnerName
			it.EstimatedCost = in.EstimatedCost
			it.WorkerID = in.WorkerID
			it.EquipmentID = in.EquipmentID
			it.StartDate = in.StartDate
			it.EndDate = in.EndDate
			it.Note = in.Note
			if err := e.Repo.UpdatePlanItemTx(ctx, tx, it); err != nil {
				return err
			}
			kept = append(kept, it)
			continue
		}
		it := domain.PlanItem{
			PlanID:        p.ID,
			ProductID:     in.ProductID,
			ProcessName:   in.ProcessName,
			Sequence:      in.Sequence,
			Mode:          domain.NormalizeMode(in.Mode),
			Quantity:      in.Quantity,
			PartnerName:   in.PartnerName,
			EstimatedCost: in.EstimatedCost,
			Status:        domain.StatusPlanned,
			WorkerID:      in.WorkerID,
			EquipmentID:   in.EquipmentID,
			StartDate:     in.StartDate,
			EndDate:       in.EndDate,
			Note:          in.Note,
		}
		it.ID, err = e.Repo.InsertPlanItemTx(ctx, tx, it)
		if err != nil {
			return err
		}
		kept = append(kept, it)
	}

	// Whatever remains in current was dropped from the list. Items with
	// linked order lines must be unlinked (or their orders handled) first.
	for id := range current {
		linked, err := e.Repo.CountLinkedLinesForItemsTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if linked > 0 {
			return fmt.Errorf("%w: plan item %d has %d linked order lines", domain.ErrInvalidState, id, linked)
		}
		if err := e.Repo.DeleteWorkLogsForItemTx(ctx, tx, id); err != nil {
			return err
		}
		if err := e.Repo.DeleteDefectsForItemTx(ctx, tx, id); err != nil {
			return err
		}
		if err := e.Repo.DeletePlanItemTx(ctx, tx, id); err != nil {
			return err
		}
	}

	p.Items = kept
	return nil
}

// DeletePlan removes a plan and everything hanging off it: work logs,
// defects, generated order lines, items, then the plan row. Related orders
// are deleted outright or kept with the back-reference cleared, depending on
// the flag (nil falls back to config).
func (e Engine) DeletePlan(ctx context.Context, planID int64, deleteRelatedOrders *bool, actorID string) error {
	removeOrders := e.Config != nil && e.Config.Orders.DeleteRelatedOrders
	if deleteRelatedOrders != nil {
		removeOrders = *deleteRelatedOrders
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPlanTx(ctx, tx, planID)
	if err != nil {
		return err
	}

	if err := e.Repo.DeleteWorkLogsForPlanTx(ctx, tx, planID); err != nil {
		return err
	}
	if err := e.Repo.DeleteDefectsForPlanTx(ctx, tx, planID); err != nil {
		return err
	}
	for _, kind := range []string{domain.OrderKindPurchase, domain.OrderKindOutsourcing} {
		if removeOrders {
			orderIDs, err := e.Repo.DeleteLinesForPlanTx(ctx, tx, kind, planID)
			if err != nil {
				return err
			}
			for _, id := range orderIDs {
				if err := e.Repo.DeleteOrderIfEmptyTx(ctx, tx, kind, id); err != nil {
					return err
				}
			}
		} else {
			if err := e.Repo.UnlinkLinesForPlanTx(ctx, tx, kind, planID); err != nil {
				return err
			}
		}
	}

	// A plan that never completed still holds its in-production
	// reservation; deleting it releases the counters.
	if p.Status == domain.StatusPlanned || p.Status == domain.StatusInProgress {
		demand, err := e.demandProductsTx(ctx, tx, p)
		if err != nil {
			return err
		}
		now := e.timestamp()
		for _, d := range demand {
			if err := e.Repo.ReleaseStockTx(ctx, tx, d.ProductID, d.Quantity, now); err != nil {
				return err
			}
			e.metrics().RecordStockMutation("release")
		}
	}

	if err := e.Repo.DeletePlanItemsForPlanTx(ctx, tx, planID); err != nil {
		return err
	}
	if err := e.Repo.DeletePlanTx(ctx, tx, planID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "plan.deleted", "plan", fmt.Sprint(planID), actorID, events.EventPayload{
		"delete_related_orders": removeOrders,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.metrics().RecordPlanDeleted()
	e.log().Infof("plan %d deleted (orders removed: %v)", planID, removeOrders)
	return nil
}
