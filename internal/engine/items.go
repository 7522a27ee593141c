package engine

import (
	"context"
	"database/sql"
	"fmt"

	"fabline/internal/domain"
	"fabline/internal/events"
)

// PlanItemUpdateOptions are parameters for a partial plan-item update. Nil
// pointers leave the field untouched.
type PlanItemUpdateOptions struct {
	ItemID      int64
	ProcessName *string
	Sequence    *int
	Quantity    *int
	PartnerName *string
	Status      *string
	WorkerID    *int64
	EquipmentID *int64
	StartDate   *string
	EndDate     *string
	Note        *string
	ActorID     string
}

// UpdatePlanItem applies a partial update. Setting status COMPLETED runs the
// completion evaluator: once every item of the plan is COMPLETED, the whole
// plan completes through the same path as an explicit status change.
func (e Engine) UpdatePlanItem(ctx context.Context, opts PlanItemUpdateOptions) (domain.PlanItem, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PlanItem{}, err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetPlanItemTx(ctx, tx, opts.ItemID)
	if err != nil {
		return domain.PlanItem{}, err
	}
	p, err := e.Repo.GetPlanTx(ctx, tx, it.PlanID)
	if err != nil {
		return domain.PlanItem{}, err
	}
	if p.Status == domain.StatusCanceled {
		return domain.PlanItem{}, fmt.Errorf("%w: plan %d is canceled", domain.ErrInvalidState, p.ID)
	}

	it.ProcessName = optionalString(opts.ProcessName, it.ProcessName)
	it.Sequence = optionalInt(opts.Sequence, it.Sequence)
	it.Quantity = optionalInt(opts.Quantity, it.Quantity)
	it.PartnerName = optionalString(opts.PartnerName, it.PartnerName)
	it.StartDate = optionalString(opts.StartDate, it.StartDate)
	it.EndDate = optionalString(opts.EndDate, it.EndDate)
	it.Note = optionalString(opts.Note, it.Note)
	if opts.WorkerID != nil {
		it.WorkerID = opts.WorkerID
	}
	if opts.EquipmentID != nil {
		it.EquipmentID = opts.EquipmentID
	}
	if opts.Status != nil {
		status, err := domain.ParsePlanStatus(*opts.Status)
		if err != nil {
			return domain.PlanItem{}, err
		}
		it.Status = status
	}
	if err := e.Repo.UpdatePlanItemTx(ctx, tx, it); err != nil {
		return domain.PlanItem{}, err
	}
	if err := e.Events.Append(ctx, tx, "plan_item.updated", "plan_item", fmt.Sprint(it.ID), opts.ActorID, events.EventPayload{
		"status": it.Status,
	}); err != nil {
		return domain.PlanItem{}, err
	}

	if it.Status == domain.StatusCompleted {
		if err := e.maybeCompletePlanTx(ctx, tx, p, opts.ActorID); err != nil {
			return domain.PlanItem{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.PlanItem{}, err
	}
	return it, nil
}

// maybeCompletePlanTx is the completion evaluator: when every item of a
// not-yet-completed plan reads COMPLETED, the plan completes with the full
// order/stock/demand fan-out.
func (e Engine) maybeCompletePlanTx(ctx context.Context, tx *sql.Tx, p domain.Plan, actorID string) error {
	if p.Status == domain.StatusCompleted || p.Status == domain.StatusCanceled {
		return nil
	}
	items, err := e.Repo.ListPlanItemsTx(ctx, tx, p.ID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	for _, it := range items {
		if it.Status != domain.StatusCompleted {
			return nil
		}
	}
	if err := e.completePlanTx(ctx, tx, p); err != nil {
		return err
	}
	if err := e.Repo.UpdatePlanStatusTx(ctx, tx, p.ID, domain.StatusCompleted, e.timestamp()); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "plan.status", "plan", fmt.Sprint(p.ID), actorID, events.EventPayload{
		"from":   p.Status,
		"to":     domain.StatusCompleted,
		"reason": "all items completed",
	}); err != nil {
		return err
	}
	e.metrics().RecordPlanTransition(p.Status, domain.StatusCompleted)
	e.log().Infof("plan %d completed, all items finished", p.ID)
	return nil
}

// WorkLogOptions are parameters for recording produced quantity on an item.
type WorkLogOptions struct {
	ItemID   int64
	WorkerID *int64
	WorkDate string
	Quantity int
	Note     string
	ActorID  string
}

// RecordWorkLog appends an execution record. The first log moves a PLANNED
// item to IN_PROGRESS; a log that brings the cumulative produced quantity to
// the item quantity completes the item and runs the evaluator.
func (e Engine) RecordWorkLog(ctx context.Context, opts WorkLogOptions) (domain.WorkLog, error) {
	if opts.Quantity <= 0 {
		return domain.WorkLog{}, fmt.Errorf("%w: work log quantity %d", domain.ErrInvalidInput, opts.Quantity)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkLog{}, err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetPlanItemTx(ctx, tx, opts.ItemID)
	if err != nil {
		return domain.WorkLog{}, err
	}
	if it.Status == domain.StatusCanceled {
		return domain.WorkLog{}, fmt.Errorf("%w: plan item %d is canceled", domain.ErrInvalidState, it.ID)
	}
	p, err := e.Repo.GetPlanTx(ctx, tx, it.PlanID)
	if err != nil {
		return domain.WorkLog{}, err
	}

	wl := domain.WorkLog{
		PlanItemID: it.ID,
		WorkerID:   opts.WorkerID,
		WorkDate:   opts.WorkDate,
		Quantity:   opts.Quantity,
		Note:       opts.Note,
		CreatedAt:  e.timestamp(),
	}
	if wl.WorkDate == "" {
		wl.WorkDate = e.dateStamp()
	}
	wl.ID, err = e.Repo.InsertWorkLogTx(ctx, tx, wl)
	if err != nil {
		return domain.WorkLog{}, err
	}

	total, err := e.Repo.SumWorkLogQuantityTx(ctx, tx, it.ID)
	if err != nil {
		return domain.WorkLog{}, err
	}
	switch {
	case total >= it.Quantity && it.Status != domain.StatusCompleted:
		if err := e.Repo.UpdatePlanItemStatusTx(ctx, tx, it.ID, domain.StatusCompleted); err != nil {
			return domain.WorkLog{}, err
		}
	case it.Status == domain.StatusPlanned:
		if err := e.Repo.UpdatePlanItemStatusTx(ctx, tx, it.ID, domain.StatusInProgress); err != nil {
			return domain.WorkLog{}, err
		}
	}

	if err := e.Events.Append(ctx, tx, "work_log.recorded", "plan_item", fmt.Sprint(it.ID), opts.ActorID, events.EventPayload{
		"quantity": opts.Quantity,
		"total":    total,
	}); err != nil {
		return domain.WorkLog{}, err
	}

	if total >= it.Quantity {
		if err := e.maybeCompletePlanTx(ctx, tx, p, opts.ActorID); err != nil {
			return domain.WorkLog{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkLog{}, err
	}
	return wl, nil
}

// DefectOptions are parameters for recording a quality defect.
type DefectOptions struct {
	ItemID     int64
	DefectType string
	Quantity   int
	Note       string
	ActorID    string
}

// RecordDefect appends a quality-defect record against a plan item.
func (e Engine) RecordDefect(ctx context.Context, opts DefectOptions) (domain.Defect, error) {
	if opts.DefectType == "" {
		return domain.Defect{}, fmt.Errorf("%w: defect_type is required", domain.ErrInvalidInput)
	}
	if opts.Quantity <= 0 {
		return domain.Defect{}, fmt.Errorf("%w: defect quantity %d", domain.ErrInvalidInput, opts.Quantity)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Defect{}, err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetPlanItemTx(ctx, tx, opts.ItemID)
	if err != nil {
		return domain.Defect{}, err
	}
	d := domain.Defect{
		PlanItemID: it.ID,
		DefectType: opts.DefectType,
		Quantity:   opts.Quantity,
		Note:       opts.Note,
		CreatedAt:  e.timestamp(),
	}
	d.ID, err = e.Repo.InsertDefectTx(ctx, tx, d)
	if err != nil {
		return domain.Defect{}, err
	}
	if err := e.Events.Append(ctx, tx, "defect.recorded", "plan_item", fmt.Sprint(it.ID), opts.ActorID, events.EventPayload{
		"defect_type": opts.DefectType,
		"quantity":    opts.Quantity,
	}); err != nil {
		return domain.Defect{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Defect{}, err
	}
	return d, nil
}
