package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fabline/internal/domain"
	"fabline/internal/events"
)

// ProductCreateOptions are parameters for creating a product.
type ProductCreateOptions struct {
	Code string
	Name string
	Unit string
	Note string
}

func (e Engine) CreateProduct(ctx context.Context, opts ProductCreateOptions) (domain.Product, error) {
	if opts.Code == "" {
		return domain.Product{}, fmt.Errorf("%w: code is required", domain.ErrInvalidInput)
	}
	if opts.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: name is required", domain.ErrInvalidInput)
	}
	p := domain.Product{
		Code:      opts.Code,
		Name:      opts.Name,
		Unit:      opts.Unit,
		Note:      opts.Note,
		CreatedAt: e.timestamp(),
	}
	var err error
	p.ID, err = e.Repo.InsertProduct(ctx, p)
	return p, err
}

// RoutingStepInput is one step of a product's standard routing.
type RoutingStepInput struct {
	Sequence    int
	ProcessName string
	Mode        string
	PartnerName string
	UnitCost    decimal.Decimal
}

// SetRouting replaces a product's routing wholesale. Modes are normalized at
// this boundary so plan expansion only ever sees the closed enum.
func (e Engine) SetRouting(ctx context.Context, productID int64, steps []RoutingStepInput) ([]domain.RoutingStep, error) {
	if _, err := e.Repo.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	var rs []domain.RoutingStep
	for _, s := range steps {
		if s.ProcessName == "" {
			return nil, fmt.Errorf("%w: process_name is required", domain.ErrInvalidInput)
		}
		rs = append(rs, domain.RoutingStep{
			ProductID:   productID,
			Sequence:    s.Sequence,
			ProcessName: s.ProcessName,
			Mode:        domain.NormalizeMode(s.Mode),
			PartnerName: s.PartnerName,
			UnitCost:    s.UnitCost,
		})
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.ReplaceRouting(ctx, tx, productID, rs); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e.Repo.ListRouting(ctx, productID)
}

// PartnerCreateOptions are parameters for creating a partner.
type PartnerCreateOptions struct {
	Name    string
	Kind    string
	Contact string
}

func (e Engine) CreatePartner(ctx context.Context, opts PartnerCreateOptions) (domain.Partner, error) {
	if opts.Name == "" {
		return domain.Partner{}, fmt.Errorf("%w: name is required", domain.ErrInvalidInput)
	}
	p := domain.Partner{
		Name:      opts.Name,
		Kind:      opts.Kind,
		Contact:   opts.Contact,
		CreatedAt: e.timestamp(),
	}
	var err error
	p.ID, err = e.Repo.InsertPartner(ctx, p)
	return p, err
}

// SalesOrderItemInput is one demand line of a sales order.
type SalesOrderItemInput struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

// SalesOrderCreateOptions are parameters for creating a sales order.
type SalesOrderCreateOptions struct {
	PartnerID *int64
	OrderDate string
	Note      string
	Items     []SalesOrderItemInput
	ActorID   string
}

// CreateSalesOrder records confirmed customer demand with a generated
// SO-YYYYMMDD-NNN number.
func (e Engine) CreateSalesOrder(ctx context.Context, opts SalesOrderCreateOptions) (domain.SalesOrder, error) {
	if len(opts.Items) == 0 {
		return domain.SalesOrder{}, fmt.Errorf("%w: at least one item is required", domain.ErrInvalidInput)
	}
	for _, it := range opts.Items {
		if it.Quantity <= 0 {
			return domain.SalesOrder{}, fmt.Errorf("%w: quantity %d for product %d", domain.ErrInvalidInput, it.Quantity, it.ProductID)
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SalesOrder{}, err
	}
	defer tx.Rollback()

	prefix := "SO-" + e.now().UTC().Format("20060102") + "-"
	orderNo, err := e.documentNumber(ctx, prefix, func() (int, error) {
		return e.Repo.CountSalesOrdersForDay(ctx, tx, prefix)
	})
	if err != nil {
		return domain.SalesOrder{}, err
	}

	so := domain.SalesOrder{
		OrderNo:   orderNo,
		PartnerID: opts.PartnerID,
		OrderDate: opts.OrderDate,
		Status:    domain.SalesPending,
		Note:      opts.Note,
		CreatedAt: e.timestamp(),
	}
	if so.OrderDate == "" {
		so.OrderDate = e.dateStamp()
	}
	so.ID, err = e.Repo.InsertSalesOrderTx(ctx, tx, so)
	if err != nil {
		return domain.SalesOrder{}, err
	}
	for _, in := range opts.Items {
		it := domain.SalesOrderItem{
			SalesOrderID: so.ID,
			ProductID:    in.ProductID,
			Quantity:     in.Quantity,
			UnitPrice:    in.UnitPrice,
		}
		it.ID, err = e.Repo.InsertSalesOrderItemTx(ctx, tx, it)
		if err != nil {
			return domain.SalesOrder{}, err
		}
		so.Items = append(so.Items, it)
	}
	if err := e.Events.Append(ctx, tx, "sales_order.created", "sales_order", fmt.Sprint(so.ID), opts.ActorID, events.EventPayload{
		"order_no": so.OrderNo,
		"items":    len(so.Items),
	}); err != nil {
		return domain.SalesOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SalesOrder{}, err
	}
	return so, nil
}

// ReplenishmentCreateOptions are parameters for creating a
// stock-replenishment request.
type ReplenishmentCreateOptions struct {
	ProductID   int64
	Quantity    int
	RequestDate string
	TargetDate  string
	Note        string
	ActorID     string
}

// CreateReplenishment records internal demand with a generated
// SP-YYYYMMDD-NNN number.
func (e Engine) CreateReplenishment(ctx context.Context, opts ReplenishmentCreateOptions) (domain.Replenishment, error) {
	if opts.Quantity <= 0 {
		return domain.Replenishment{}, fmt.Errorf("%w: quantity %d", domain.ErrInvalidInput, opts.Quantity)
	}
	if _, err := e.Repo.GetProduct(ctx, opts.ProductID); err != nil {
		return domain.Replenishment{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Replenishment{}, err
	}
	defer tx.Rollback()

	prefix := "SP-" + e.now().UTC().Format("20060102") + "-"
	requestNo, err := e.documentNumber(ctx, prefix, func() (int, error) {
		return e.Repo.CountReplenishmentsForDay(ctx, tx, prefix)
	})
	if err != nil {
		return domain.Replenishment{}, err
	}

	rep := domain.Replenishment{
		RequestNo:   requestNo,
		ProductID:   opts.ProductID,
		Quantity:    opts.Quantity,
		RequestDate: opts.RequestDate,
		TargetDate:  opts.TargetDate,
		Status:      domain.ReplenishPending,
		Note:        opts.Note,
		CreatedAt:   e.timestamp(),
	}
	if rep.RequestDate == "" {
		rep.RequestDate = e.dateStamp()
	}
	rep.ID, err = e.Repo.InsertReplenishmentTx(ctx, tx, rep)
	if err != nil {
		return domain.Replenishment{}, err
	}
	if err := e.Events.Append(ctx, tx, "replenishment.created", "replenishment", fmt.Sprint(rep.ID), opts.ActorID, events.EventPayload{
		"request_no": rep.RequestNo,
		"quantity":   rep.Quantity,
	}); err != nil {
		return domain.Replenishment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Replenishment{}, err
	}
	return rep, nil
}

// documentNumber applies the configured suffix policy to a date-stamped
// prefix: per-day sequence by default, random uuid slice otherwise.
func (e Engine) documentNumber(_ context.Context, prefix string, count func() (int, error)) (string, error) {
	if e.Config != nil && e.Config.Orders.NumberSuffix == "random" {
		return prefix + uuid.NewString()[:8], nil
	}
	n, err := count()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%03d", prefix, n+1), nil
}
