package engine

import (
	"context"
	"database/sql"
	"time"

	"fabline/internal/config"
	"fabline/internal/domain"
	"fabline/internal/events"
	"fabline/internal/repo"
	"fabline/internal/telemetry"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Log     *telemetry.Logger
	Metrics *telemetry.Metrics
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config, log *telemetry.Logger, metrics *telemetry.Metrics) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Config:  cfg,
		Log:     log,
		Metrics: metrics,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) dateStamp() string {
	return e.now().UTC().Format("2006-01-02")
}

func (e Engine) metrics() *telemetry.Metrics {
	if e.Metrics != nil {
		return e.Metrics
	}
	return &telemetry.Metrics{}
}

func (e Engine) log() *telemetry.Logger {
	if e.Log != nil {
		return e.Log
	}
	return telemetry.Nop()
}

// demandQuantity is one product the plan's demand reference asks for.
type demandQuantity struct {
	ProductID int64
	Quantity  int
}

// demandProductsTx resolves the products behind a plan's demand reference. A
// sales order contributes one entry per order item, a replenishment exactly
// one.
func (e Engine) demandProductsTx(ctx context.Context, tx *sql.Tx, plan domain.Plan) ([]demandQuantity, error) {
	if plan.SalesOrderID != nil {
		items, err := e.Repo.ListSalesOrderItemsTx(ctx, tx, *plan.SalesOrderID)
		if err != nil {
			return nil, err
		}
		var res []demandQuantity
		for _, it := range items {
			res = append(res, demandQuantity{ProductID: it.ProductID, Quantity: it.Quantity})
		}
		return res, nil
	}
	rep, err := e.Repo.GetReplenishmentTx(ctx, tx, *plan.ReplenishmentID)
	if err != nil {
		return nil, err
	}
	return []demandQuantity{{ProductID: rep.ProductID, Quantity: rep.Quantity}}, nil
}

func optionalString(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}

func optionalInt(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}
