package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fabline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func parseDecimal(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// --- products ---

func (r Repo) InsertProduct(ctx context.Context, p domain.Product) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO products(code,name,unit,note,created_at) VALUES (?,?,?,?,?)`,
		p.Code, p.Name, nullable(p.Unit), nullable(p.Note), p.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	var p domain.Product
	var unit, note sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,code,name,unit,note,created_at FROM products WHERE id=?`, id).
		Scan(&p.ID, &p.Code, &p.Name, &unit, &note, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if unit.Valid {
		p.Unit = unit.String
	}
	if note.Valid {
		p.Note = note.String
	}
	return p, err
}

func (r Repo) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,code,name,COALESCE(unit,''),COALESCE(note,''),created_at FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Unit, &p.Note, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

// --- routing ---

// ReplaceRouting swaps a product's routing steps wholesale.
func (r Repo) ReplaceRouting(ctx context.Context, tx *sql.Tx, productID int64, steps []domain.RoutingStep) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM routing_steps WHERE product_id=?`, productID); err != nil {
		return err
	}
	for _, s := range steps {
		if _, err := tx.ExecContext(ctx, `INSERT INTO routing_steps(product_id,sequence,process_name,mode,partner_name,unit_cost) VALUES (?,?,?,?,?,?)`,
			productID, s.Sequence, s.ProcessName, s.Mode, nullable(s.PartnerName), s.UnitCost.String()); err != nil {
			return err
		}
	}
	return nil
}

// ListRouting returns a product's routing steps in sequence order. A product
// without routing returns an empty slice, not an error.
func (r Repo) ListRouting(ctx context.Context, productID int64) ([]domain.RoutingStep, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,product_id,sequence,process_name,mode,COALESCE(partner_name,''),unit_cost FROM routing_steps WHERE product_id=? ORDER BY sequence`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RoutingStep
	for rows.Next() {
		var s domain.RoutingStep
		var cost string
		if err := rows.Scan(&s.ID, &s.ProductID, &s.Sequence, &s.ProcessName, &s.Mode, &s.PartnerName, &cost); err != nil {
			return nil, err
		}
		s.UnitCost = parseDecimal(cost)
		res = append(res, s)
	}
	return res, nil
}

// --- partners ---

func (r Repo) InsertPartner(ctx context.Context, p domain.Partner) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO partners(name,kind,contact,created_at) VALUES (?,?,?,?)`,
		p.Name, nullable(p.Kind), nullable(p.Contact), p.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) ListPartners(ctx context.Context) ([]domain.Partner, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(kind,''),COALESCE(contact,''),created_at FROM partners ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Partner
	for rows.Next() {
		var p domain.Partner
		if err := rows.Scan(&p.ID, &p.Name, &p.Kind, &p.Contact, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

// FindPartnerByNameTx resolves a partner id by exact name. Missing partners
// are not an error; generated orders simply carry no partner reference.
func (r Repo) FindPartnerByNameTx(ctx context.Context, tx *sql.Tx, name string) (*int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM partners WHERE name=?`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// --- events ---

type EventFilters struct {
	Type       string
	EntityKind string
	EntityID   string
	Limit      int
	Cursor     int64
}

func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events ` + where + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, nil
}
