package repo

import (
	"context"
	"database/sql"

	"fabline/internal/domain"
)

func (r Repo) InsertWorkLogTx(ctx context.Context, tx *sql.Tx, wl domain.WorkLog) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO work_logs(plan_item_id,worker_id,work_date,quantity,note,created_at) VALUES (?,?,?,?,?,?)`,
		wl.PlanItemID, nullableInt64Ptr(wl.WorkerID), nullable(wl.WorkDate), wl.Quantity, nullable(wl.Note), wl.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) ListWorkLogs(ctx context.Context, planItemID int64) ([]domain.WorkLog, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,plan_item_id,worker_id,COALESCE(work_date,''),quantity,COALESCE(note,''),created_at FROM work_logs WHERE plan_item_id=? ORDER BY id`, planItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkLog
	for rows.Next() {
		var wl domain.WorkLog
		var workerID sql.NullInt64
		if err := rows.Scan(&wl.ID, &wl.PlanItemID, &workerID, &wl.WorkDate, &wl.Quantity, &wl.Note, &wl.CreatedAt); err != nil {
			return nil, err
		}
		if workerID.Valid {
			wl.WorkerID = &workerID.Int64
		}
		res = append(res, wl)
	}
	return res, nil
}

// SumWorkLogQuantityTx totals recorded production for one plan item.
func (r Repo) SumWorkLogQuantityTx(ctx context.Context, tx *sql.Tx, planItemID int64) (int, error) {
	var total int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(quantity),0) FROM work_logs WHERE plan_item_id=?`, planItemID).Scan(&total)
	return total, err
}

// DeleteWorkLogsForPlanTx removes execution records before a plan is deleted.
func (r Repo) DeleteWorkLogsForPlanTx(ctx context.Context, tx *sql.Tx, planID int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM work_logs WHERE plan_item_id IN (SELECT id FROM plan_items WHERE plan_id=?)`, planID)
	return err
}

func (r Repo) DeleteWorkLogsForItemTx(ctx context.Context, tx *sql.Tx, planItemID int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM work_logs WHERE plan_item_id=?`, planItemID)
	return err
}

// --- quality defects ---

func (r Repo) InsertDefectTx(ctx context.Context, tx *sql.Tx, d domain.Defect) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO defects(plan_item_id,defect_type,quantity,note,created_at) VALUES (?,?,?,?,?)`,
		d.PlanItemID, d.DefectType, d.Quantity, nullable(d.Note), d.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) ListDefects(ctx context.Context, planItemID int64) ([]domain.Defect, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,plan_item_id,defect_type,quantity,COALESCE(note,''),created_at FROM defects WHERE plan_item_id=? ORDER BY id`, planItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Defect
	for rows.Next() {
		var d domain.Defect
		if err := rows.Scan(&d.ID, &d.PlanItemID, &d.DefectType, &d.Quantity, &d.Note, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, nil
}

// DeleteDefectsForPlanTx removes quality records before a plan is deleted.
func (r Repo) DeleteDefectsForPlanTx(ctx context.Context, tx *sql.Tx, planID int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM defects WHERE plan_item_id IN (SELECT id FROM plan_items WHERE plan_id=?)`, planID)
	return err
}

func (r Repo) DeleteDefectsForItemTx(ctx context.Context, tx *sql.Tx, planItemID int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM defects WHERE plan_item_id=?`, planItemID)
	return err
}
