package repo

import (
	"context"
	"database/sql"

	"fabline/internal/domain"
)

func (r Repo) InsertPlanTx(ctx context.Context, tx *sql.Tx, p domain.Plan) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO plans(sales_order_id,replenishment_id,plan_date,status,note,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		nullableInt64Ptr(p.SalesOrderID), nullableInt64Ptr(p.ReplenishmentID), nullable(p.PlanDate), p.Status, nullable(p.Note), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const planColumns = `id,sales_order_id,replenishment_id,COALESCE(plan_date,''),status,COALESCE(note,''),created_at,updated_at`

func scanPlan(row interface{ Scan(...any) error }) (domain.Plan, error) {
	var p domain.Plan
	var salesOrderID, replenishmentID sql.NullInt64
	err := row.Scan(&p.ID, &salesOrderID, &replenishmentID, &p.PlanDate, &p.Status, &p.Note, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if salesOrderID.Valid {
		p.SalesOrderID = &salesOrderID.Int64
	}
	if replenishmentID.Valid {
		p.ReplenishmentID = &replenishmentID.Int64
	}
	return p, nil
}

func (r Repo) GetPlan(ctx context.Context, id int64) (domain.Plan, error) {
	return scanPlan(r.DB.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id=?`, id))
}

func (r Repo) GetPlanTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Plan, error) {
	return scanPlan(tx.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id=?`, id))
}

// FindActivePlanByDemand returns the non-canceled plan for a demand
// reference, if one exists. Backs the idempotent-create behavior.
func (r Repo) FindActivePlanByDemand(ctx context.Context, ref domain.DemandRef) (domain.Plan, error) {
	var row *sql.Row
	if ref.SalesOrderID != nil {
		row = r.DB.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE sales_order_id=? AND status!=? ORDER BY id LIMIT 1`, *ref.SalesOrderID, domain.StatusCanceled)
	} else {
		row = r.DB.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE replenishment_id=? AND status!=? ORDER BY id LIMIT 1`, *ref.ReplenishmentID, domain.StatusCanceled)
	}
	return scanPlan(row)
}

type PlanFilters struct {
	Status string
	Limit  int
}

func (r Repo) ListPlans(ctx context.Context, f PlanFilters) ([]domain.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans`
	var args []any
	if f.Status != "" {
		query += ` WHERE status=?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

func (r Repo) UpdatePlanHeaderTx(ctx context.Context, tx *sql.Tx, p domain.Plan) error {
	_, err := tx.ExecContext(ctx, `UPDATE plans SET plan_date=?, note=?, updated_at=? WHERE id=?`,
		nullable(p.PlanDate), nullable(p.Note), p.UpdatedAt, p.ID)
	return err
}

func (r Repo) UpdatePlanStatusTx(ctx context.Context, tx *sql.Tx, id int64, status, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE plans SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	return err
}

func (r Repo) DeletePlanTx(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM plans WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- plan items ---

const planItemColumns = `id,plan_id,product_id,process_name,sequence,mode,quantity,COALESCE(partner_name,''),estimated_cost,status,worker_id,equipment_id,COALESCE(start_date,''),COALESCE(end_date,''),COALESCE(note,'')`

func scanPlanItem(row interface{ Scan(...any) error }) (domain.PlanItem, error) {
	var it domain.PlanItem
	var workerID, equipmentID sql.NullInt64
	var cost string
	err := row.Scan(&it.ID, &it.PlanID, &it.ProductID, &it.ProcessName, &it.Sequence, &it.Mode, &it.Quantity,
		&it.PartnerName, &cost, &it.Status, &workerID, &equipmentID, &it.StartDate, &it.EndDate, &it.Note)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	it.EstimatedCost = parseDecimal(cost)
	if workerID.Valid {
		it.WorkerID = &workerID.Int64
	}
	if equipmentID.Valid {
		it.EquipmentID = &equipmentID.Int64
	}
	return it, nil
}

func (r Repo) InsertPlanItemTx(ctx context.Context, tx *sql.Tx, it domain.PlanItem) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO plan_items(plan_id,product_id,process_name,sequence,mode,quantity,partner_name,estimated_cost,status,worker_id,equipment_id,start_date,end_date,note)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.PlanID, it.ProductID, it.ProcessName, it.Sequence, it.Mode, it.Quantity, nullable(it.PartnerName),
		it.EstimatedCost.String(), it.Status, nullableInt64Ptr(it.WorkerID), nullableInt64Ptr(it.EquipmentID),
		nullable(it.StartDate), nullable(it.EndDate), nullable(it.Note))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) UpdatePlanItemTx(ctx context.Context, tx *sql.Tx, it domain.PlanItem) error {
	_, err := tx.ExecContext(ctx, `UPDATE plan_items SET product_id=?, process_name=?, sequence=?, quantity=?, partner_name=?, estimated_cost=?, status=?, worker_id=?, equipment_id=?, start_date=?, end_date=?, note=? WHERE id=?`,
		it.ProductID, it.ProcessName, it.Sequence, it.Quantity, nullable(it.PartnerName), it.EstimatedCost.String(),
		it.Status, nullableInt64Ptr(it.WorkerID), nullableInt64Ptr(it.EquipmentID),
		nullable(it.StartDate), nullable(it.EndDate), nullable(it.Note), it.ID)
	return err
}

func (r Repo) GetPlanItem(ctx context.Context, id int64) (domain.PlanItem, error) {
	return scanPlanItem(r.DB.QueryRowContext(ctx, `SELECT `+planItemColumns+` FROM plan_items WHERE id=?`, id))
}

func (r Repo) GetPlanItemTx(ctx context.Context, tx *sql.Tx, id int64) (domain.PlanItem, error) {
	return scanPlanItem(tx.QueryRowContext(ctx, `SELECT `+planItemColumns+` FROM plan_items WHERE id=?`, id))
}

func (r Repo) ListPlanItems(ctx context.Context, planID int64) ([]domain.PlanItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+planItemColumns+` FROM plan_items WHERE plan_id=? ORDER BY sequence, id`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPlanItems(rows)
}

func (r Repo) ListPlanItemsTx(ctx context.Context, tx *sql.Tx, planID int64) ([]domain.PlanItem, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+planItemColumns+` FROM plan_items WHERE plan_id=? ORDER BY sequence, id`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPlanItems(rows)
}

func collectPlanItems(rows *sql.Rows) ([]domain.PlanItem, error) {
	var res []domain.PlanItem
	for rows.Next() {
		it, err := scanPlanItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, nil
}

func (r Repo) DeletePlanItemTx(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM plan_items WHERE id=?`, id)
	return err
}

func (r Repo) DeletePlanItemsForPlanTx(ctx context.Context, tx *sql.Tx, planID int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM plan_items WHERE plan_id=?`, planID)
	return err
}

func (r Repo) UpdatePlanItemStatusTx(ctx context.Context, tx *sql.Tx, id int64, status string) error {
	_, err := tx.ExecContext(ctx, `UPDATE plan_items SET status=? WHERE id=?`, status, id)
	return err
}
