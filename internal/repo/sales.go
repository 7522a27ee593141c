package repo

import (
	"context"
	"database/sql"

	"fabline/internal/domain"
)

func (r Repo) InsertSalesOrderTx(ctx context.Context, tx *sql.Tx, so domain.SalesOrder) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO sales_orders(order_no,partner_id,order_date,status,note,created_at) VALUES (?,?,?,?,?,?)`,
		so.OrderNo, nullableInt64Ptr(so.PartnerID), nullable(so.OrderDate), so.Status, nullable(so.Note), so.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) InsertSalesOrderItemTx(ctx context.Context, tx *sql.Tx, it domain.SalesOrderItem) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO sales_order_items(sales_order_id,product_id,quantity,unit_price) VALUES (?,?,?,?)`,
		it.SalesOrderID, it.ProductID, it.Quantity, it.UnitPrice.String())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const salesOrderColumns = `id,order_no,partner_id,COALESCE(order_date,''),status,COALESCE(note,''),created_at`

func scanSalesOrder(row interface{ Scan(...any) error }) (domain.SalesOrder, error) {
	var so domain.SalesOrder
	var partnerID sql.NullInt64
	err := row.Scan(&so.ID, &so.OrderNo, &partnerID, &so.OrderDate, &so.Status, &so.Note, &so.CreatedAt)
	if err == sql.ErrNoRows {
		return so, ErrNotFound
	}
	if err != nil {
		return so, err
	}
	if partnerID.Valid {
		so.PartnerID = &partnerID.Int64
	}
	return so, nil
}

func (r Repo) GetSalesOrder(ctx context.Context, id int64) (domain.SalesOrder, error) {
	so, err := scanSalesOrder(r.DB.QueryRowContext(ctx, `SELECT `+salesOrderColumns+` FROM sales_orders WHERE id=?`, id))
	if err != nil {
		return so, err
	}
	so.Items, err = r.ListSalesOrderItems(ctx, id)
	return so, err
}

func (r Repo) GetSalesOrderTx(ctx context.Context, tx *sql.Tx, id int64) (domain.SalesOrder, error) {
	return scanSalesOrder(tx.QueryRowContext(ctx, `SELECT `+salesOrderColumns+` FROM sales_orders WHERE id=?`, id))
}

func (r Repo) ListSalesOrders(ctx context.Context) ([]domain.SalesOrder, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+salesOrderColumns+` FROM sales_orders ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SalesOrder
	for rows.Next() {
		so, err := scanSalesOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, so)
	}
	return res, nil
}

func (r Repo) ListSalesOrderItems(ctx context.Context, salesOrderID int64) ([]domain.SalesOrderItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,sales_order_id,product_id,quantity,unit_price FROM sales_order_items WHERE sales_order_id=? ORDER BY id`, salesOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSalesOrderItems(rows)
}

func (r Repo) ListSalesOrderItemsTx(ctx context.Context, tx *sql.Tx, salesOrderID int64) ([]domain.SalesOrderItem, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id,sales_order_id,product_id,quantity,unit_price FROM sales_order_items WHERE sales_order_id=? ORDER BY id`, salesOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSalesOrderItems(rows)
}

func collectSalesOrderItems(rows *sql.Rows) ([]domain.SalesOrderItem, error) {
	var res []domain.SalesOrderItem
	for rows.Next() {
		var it domain.SalesOrderItem
		var price string
		if err := rows.Scan(&it.ID, &it.SalesOrderID, &it.ProductID, &it.Quantity, &price); err != nil {
			return nil, err
		}
		it.UnitPrice = parseDecimal(price)
		res = append(res, it)
	}
	return res, nil
}

func (r Repo) UpdateSalesOrderStatusTx(ctx context.Context, tx *sql.Tx, id int64, status string) error {
	_, err := tx.ExecContext(ctx, `UPDATE sales_orders SET status=? WHERE id=?`, status, id)
	return err
}

// CountSalesOrdersForDay backs the SO- order-number sequence.
func (r Repo) CountSalesOrdersForDay(ctx context.Context, tx *sql.Tx, prefix string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM sales_orders WHERE order_no LIKE ?`, prefix+"%").Scan(&n)
	return n, err
}
