package repo

import (
	"context"
	"database/sql"

	"fabline/internal/domain"
)

// Stock counters are mutated with single conditional UPDATE statements so
// concurrent transitions cannot interleave a read-modify-write. MAX(...,0)
// keeps both counters clamped at zero.

func (r Repo) ensureStockRowTx(ctx context.Context, tx *sql.Tx, productID int64, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stocks(product_id,on_hand_quantity,in_production_quantity,updated_at) VALUES (?,0,0,?)
ON CONFLICT(product_id) DO NOTHING`, productID, now)
	return err
}

// ReserveStockTx adds qty to the in-production counter.
func (r Repo) ReserveStockTx(ctx context.Context, tx *sql.Tx, productID int64, qty int, now string) error {
	if err := r.ensureStockRowTx(ctx, tx, productID, now); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `UPDATE stocks SET in_production_quantity=in_production_quantity+?, updated_at=? WHERE product_id=?`,
		qty, now, productID)
	return err
}

// CompleteStockTx moves qty from in-production to on-hand. A missing row is
// seeded first, so completing production for a never-stocked product works.
func (r Repo) CompleteStockTx(ctx context.Context, tx *sql.Tx, productID int64, qty int, now string) error {
	if err := r.ensureStockRowTx(ctx, tx, productID, now); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `UPDATE stocks SET
  in_production_quantity=MAX(in_production_quantity-?,0),
  on_hand_quantity=on_hand_quantity+?,
  updated_at=?
WHERE product_id=?`, qty, qty, now, productID)
	return err
}

// UncompleteStockTx reverses CompleteStockTx for a rollback.
func (r Repo) UncompleteStockTx(ctx context.Context, tx *sql.Tx, productID int64, qty int, now string) error {
	if err := r.ensureStockRowTx(ctx, tx, productID, now); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `UPDATE stocks SET
  on_hand_quantity=MAX(on_hand_quantity-?,0),
  in_production_quantity=in_production_quantity+?,
  updated_at=?
WHERE product_id=?`, qty, qty, now, productID)
	return err
}

// ReleaseStockTx drops an in-production reservation, clamped at zero.
func (r Repo) ReleaseStockTx(ctx context.Context, tx *sql.Tx, productID int64, qty int, now string) error {
	if err := r.ensureStockRowTx(ctx, tx, productID, now); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `UPDATE stocks SET in_production_quantity=MAX(in_production_quantity-?,0), updated_at=? WHERE product_id=?`,
		qty, now, productID)
	return err
}

func (r Repo) GetStock(ctx context.Context, productID int64) (domain.Stock, error) {
	var s domain.Stock
	var location, updatedAt sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT product_id,on_hand_quantity,in_production_quantity,location,updated_at FROM stocks WHERE product_id=?`, productID).
		Scan(&s.ProductID, &s.OnHandQuantity, &s.InProductionQuantity, &location, &updatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if location.Valid {
		s.Location = location.String
	}
	if updatedAt.Valid {
		s.UpdatedAt = updatedAt.String
	}
	return s, err
}

func (r Repo) ListStocks(ctx context.Context) ([]domain.Stock, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT product_id,on_hand_quantity,in_production_quantity,COALESCE(location,''),COALESCE(updated_at,'') FROM stocks ORDER BY product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Stock
	for rows.Next() {
		var s domain.Stock
		if err := rows.Scan(&s.ProductID, &s.OnHandQuantity, &s.InProductionQuantity, &s.Location, &s.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, nil
}

// --- replenishments ---

func (r Repo) InsertReplenishmentTx(ctx context.Context, tx *sql.Tx, rep domain.Replenishment) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO replenishments(request_no,product_id,quantity,request_date,target_date,status,note,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		rep.RequestNo, rep.ProductID, rep.Quantity, nullable(rep.RequestDate), nullable(rep.TargetDate), rep.Status, nullable(rep.Note), rep.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const replenishmentColumns = `id,request_no,product_id,quantity,COALESCE(request_date,''),COALESCE(target_date,''),status,COALESCE(note,''),created_at`

func scanReplenishment(row interface{ Scan(...any) error }) (domain.Replenishment, error) {
	var rep domain.Replenishment
	err := row.Scan(&rep.ID, &rep.RequestNo, &rep.ProductID, &rep.Quantity, &rep.RequestDate, &rep.TargetDate, &rep.Status, &rep.Note, &rep.CreatedAt)
	if err == sql.ErrNoRows {
		return rep, ErrNotFound
	}
	return rep, err
}

func (r Repo) GetReplenishment(ctx context.Context, id int64) (domain.Replenishment, error) {
	return scanReplenishment(r.DB.QueryRowContext(ctx, `SELECT `+replenishmentColumns+` FROM replenishments WHERE id=?`, id))
}

func (r Repo) GetReplenishmentTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Replenishment, error) {
	return scanReplenishment(tx.QueryRowContext(ctx, `SELECT `+replenishmentColumns+` FROM replenishments WHERE id=?`, id))
}

func (r Repo) ListReplenishments(ctx context.Context) ([]domain.Replenishment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+replenishmentColumns+` FROM replenishments ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Replenishment
	for rows.Next() {
		rep, err := scanReplenishment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rep)
	}
	return res, nil
}

func (r Repo) UpdateReplenishmentStatusTx(ctx context.Context, tx *sql.Tx, id int64, status string) error {
	_, err := tx.ExecContext(ctx, `UPDATE replenishments SET status=? WHERE id=?`, status, id)
	return err
}

// CountReplenishmentsForDay backs the SP- request-number sequence.
func (r Repo) CountReplenishmentsForDay(ctx context.Context, tx *sql.Tx, prefix string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM replenishments WHERE request_no LIKE ?`, prefix+"%").Scan(&n)
	return n, err
}
