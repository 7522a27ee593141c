package repo

import (
	"context"
	"database/sql"
	"fmt"

	"fabline/internal/domain"
)

// orderTables maps an external-order kind to its table pair. Purchase and
// outsourcing orders share one shape but live in separate tables.
func orderTables(kind string) (orders, items string, err error) {
	switch kind {
	case domain.OrderKindPurchase:
		return "purchase_orders", "purchase_order_items", nil
	case domain.OrderKindOutsourcing:
		return "outsourcing_orders", "outsourcing_order_items", nil
	default:
		return "", "", fmt.Errorf("%w: order kind %q", domain.ErrInvalidInput, kind)
	}
}

func (r Repo) InsertOrderTx(ctx context.Context, tx *sql.Tx, o domain.ExternalOrder) (int64, error) {
	orders, _, err := orderTables(o.Kind)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO `+orders+`(order_no,partner_id,partner_name,status,order_date,delivery_date,created_at) VALUES (?,?,?,?,?,?,?)`,
		o.OrderNo, nullableInt64Ptr(o.PartnerID), nullable(o.PartnerName), o.Status, nullable(o.OrderDate), nil, o.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) InsertOrderItemTx(ctx context.Context, tx *sql.Tx, kind string, it domain.ExternalOrderItem) (int64, error) {
	_, items, err := orderTables(kind)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO `+items+`(order_id,product_id,plan_item_id,ordered_quantity,received_quantity,unit_price,status) VALUES (?,?,?,?,?,?,?)`,
		it.OrderID, it.ProductID, nullableInt64Ptr(it.PlanItemID), it.OrderedQuantity, it.ReceivedQuantity, it.UnitPrice.String(), it.Status)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const orderColumns = `id,order_no,partner_id,COALESCE(partner_name,''),status,COALESCE(order_date,''),delivery_date,created_at`

func scanOrder(kind string, row interface{ Scan(...any) error }) (domain.ExternalOrder, error) {
	o := domain.ExternalOrder{Kind: kind}
	var partnerID sql.NullInt64
	var deliveryDate sql.NullString
	err := row.Scan(&o.ID, &o.OrderNo, &partnerID, &o.PartnerName, &o.Status, &o.OrderDate, &deliveryDate, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	if partnerID.Valid {
		o.PartnerID = &partnerID.Int64
	}
	if deliveryDate.Valid {
		o.DeliveryDate = &deliveryDate.String
	}
	return o, nil
}

func (r Repo) GetOrder(ctx context.Context, kind string, id int64) (domain.ExternalOrder, error) {
	orders, _, err := orderTables(kind)
	if err != nil {
		return domain.ExternalOrder{}, err
	}
	o, err := scanOrder(kind, r.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM `+orders+` WHERE id=?`, id))
	if err != nil {
		return o, err
	}
	o.Items, err = r.listOrderItems(ctx, kind, id)
	return o, err
}

func (r Repo) GetOrderTx(ctx context.Context, tx *sql.Tx, kind string, id int64) (domain.ExternalOrder, error) {
	orders, _, err := orderTables(kind)
	if err != nil {
		return domain.ExternalOrder{}, err
	}
	return scanOrder(kind, tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM `+orders+` WHERE id=?`, id))
}

func (r Repo) ListOrders(ctx context.Context, kind string, limit int) ([]domain.ExternalOrder, error) {
	orders, _, err := orderTables(kind)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + orderColumns + ` FROM ` + orders + ` ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ExternalOrder
	for rows.Next() {
		o, err := scanOrder(kind, rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, nil
}

const orderItemColumns = `id,order_id,product_id,plan_item_id,ordered_quantity,received_quantity,unit_price,status`

func scanOrderItem(row interface{ Scan(...any) error }) (domain.ExternalOrderItem, error) {
	var it domain.ExternalOrderItem
	var planItemID sql.NullInt64
	var price string
	err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &planItemID, &it.OrderedQuantity, &it.ReceivedQuantity, &price, &it.Status)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	it.UnitPrice = parseDecimal(price)
	if planItemID.Valid {
		it.PlanItemID = &planItemID.Int64
	}
	return it, nil
}

func (r Repo) listOrderItems(ctx context.Context, kind string, orderID int64) ([]domain.ExternalOrderItem, error) {
	_, items, err := orderTables(kind)
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+orderItemColumns+` FROM `+items+` WHERE order_id=? ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrderItems(rows)
}

func (r Repo) ListOrderItemsTx(ctx context.Context, tx *sql.Tx, kind string, orderID int64) ([]domain.ExternalOrderItem, error) {
	_, items, err := orderTables(kind)
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, `SELECT `+orderItemColumns+` FROM `+items+` WHERE order_id=? ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrderItems(rows)
}

// ListLinesByPlanItemTx returns the order lines linked to one plan item.
func (r Repo) ListLinesByPlanItemTx(ctx context.Context, tx *sql.Tx, kind string, planItemID int64) ([]domain.ExternalOrderItem, error) {
	_, items, err := orderTables(kind)
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, `SELECT `+orderItemColumns+` FROM `+items+` WHERE plan_item_id=? ORDER BY id`, planItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrderItems(rows)
}

// ListLinesForPlanTx returns all order lines of a kind linked to any item of
// a plan.
func (r Repo) ListLinesForPlanTx(ctx context.Context, tx *sql.Tx, kind string, planID int64) ([]domain.ExternalOrderItem, error) {
	_, items, err := orderTables(kind)
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, `SELECT `+aliasedOrderItemColumns("l")+` FROM `+items+` l JOIN plan_items pi ON pi.id=l.plan_item_id WHERE pi.plan_id=? ORDER BY l.id`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrderItems(rows)
}

func aliasedOrderItemColumns(alias string) string {
	return alias + `.id,` + alias + `.order_id,` + alias + `.product_id,` + alias + `.plan_item_id,` + alias + `.ordered_quantity,` + alias + `.received_quantity,` + alias + `.unit_price,` + alias + `.status`
}

func collectOrderItems(rows *sql.Rows) ([]domain.ExternalOrderItem, error) {
	var res []domain.ExternalOrderItem
	for rows.Next() {
		it, err := scanOrderItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, nil
}

func (r Repo) SetLineReceivedTx(ctx context.Context, tx *sql.Tx, kind string, lineID int64, received int, status string) error {
	_, items, err := orderTables(kind)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE `+items+` SET received_quantity=?, status=? WHERE id=?`, received, status, lineID)
	return err
}

func (r Repo) SetOrderStatusTx(ctx context.Context, tx *sql.Tx, kind string, orderID int64, status string, deliveryDate *string) error {
	orders, _, err := orderTables(kind)
	if err != nil {
		return err
	}
	var dd any
	if deliveryDate != nil {
		dd = *deliveryDate
	}
	_, err = tx.ExecContext(ctx, `UPDATE `+orders+` SET status=?, delivery_date=? WHERE id=?`, status, dd, orderID)
	return err
}

// UnlinkLinesForPlanTx clears the plan-item back-reference on every line
// linked to the plan, leaving the commercial order intact.
func (r Repo) UnlinkLinesForPlanTx(ctx context.Context, tx *sql.Tx, kind string, planID int64) error {
	_, items, err := orderTables(kind)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE `+items+` SET plan_item_id=NULL WHERE plan_item_id IN (SELECT id FROM plan_items WHERE plan_id=?)`, planID)
	return err
}

// DeleteLinesForPlanTx removes linked lines and returns the ids of the
// orders they belonged to so empty orders can be removed afterwards.
func (r Repo) DeleteLinesForPlanTx(ctx context.Context, tx *sql.Tx, kind string, planID int64) ([]int64, error) {
	_, items, err := orderTables(kind)
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT order_id FROM `+items+` WHERE plan_item_id IN (SELECT id FROM plan_items WHERE plan_id=?)`, planID)
	if err != nil {
		return nil, err
	}
	var orderIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		orderIDs = append(orderIDs, id)
	}
	rows.Close()
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+items+` WHERE plan_item_id IN (SELECT id FROM plan_items WHERE plan_id=?)`, planID); err != nil {
		return nil, err
	}
	return orderIDs, nil
}

// DeleteOrderIfEmptyTx drops an order that no longer has lines.
func (r Repo) DeleteOrderIfEmptyTx(ctx context.Context, tx *sql.Tx, kind string, orderID int64) error {
	orders, items, err := orderTables(kind)
	if err != nil {
		return err
	}
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM `+items+` WHERE order_id=?`, orderID).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM `+orders+` WHERE id=?`, orderID)
	return err
}

// CountLinkedLinesForItemsTx reports how many order lines of either kind
// reference any of the given plan items.
func (r Repo) CountLinkedLinesForItemsTx(ctx context.Context, tx *sql.Tx, planItemID int64) (int, error) {
	var total int
	for _, kind := range []string{domain.OrderKindPurchase, domain.OrderKindOutsourcing} {
		_, items, err := orderTables(kind)
		if err != nil {
			return 0, err
		}
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM `+items+` WHERE plan_item_id=?`, planItemID).Scan(&n); err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// ListPendingItems returns plan items of the given mode that have no linked
// order line yet: the "needs ordering" queue.
func (r Repo) ListPendingItems(ctx context.Context, mode string) ([]domain.PlanItem, error) {
	var kind string
	switch mode {
	case domain.ModePurchase:
		kind = domain.OrderKindPurchase
	case domain.ModeOutsourcing:
		kind = domain.OrderKindOutsourcing
	default:
		return nil, fmt.Errorf("%w: pending-items mode %q", domain.ErrInvalidInput, mode)
	}
	_, items, err := orderTables(kind)
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+planItemColumns+` FROM plan_items
WHERE mode=? AND status NOT IN (?,?) AND NOT EXISTS (SELECT 1 FROM `+items+` l WHERE l.plan_item_id=plan_items.id)
ORDER BY id`, mode, domain.StatusCompleted, domain.StatusCanceled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPlanItems(rows)
}

// CountOrdersForDay backs the per-day order-number sequence.
func (r Repo) CountOrdersForDay(ctx context.Context, tx *sql.Tx, kind, prefix string) (int, error) {
	orders, _, err := orderTables(kind)
	if err != nil {
		return 0, err
	}
	var n int
	err = tx.QueryRowContext(ctx, `SELECT count(*) FROM `+orders+` WHERE order_no LIKE ?`, prefix+"%").Scan(&n)
	return n, err
}
