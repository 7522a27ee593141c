package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fabline/internal/config"
	"fabline/internal/db"
	"fabline/internal/domain"
	"fabline/internal/engine"
	"fabline/internal/migrate"
	"fabline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default(), nil, nil)
	eng.Now = func() time.Time { return time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

// seedWidget creates a product with a three-step routing (internal assembly,
// outsourced plating, purchased raw steel) and a sales order for 10 units.
func seedWidget(t *testing.T, env testEnv) (domain.Product, domain.SalesOrder) {
	t.Helper()
	p, err := env.Engine.CreateProduct(env.Ctx, engine.ProductCreateOptions{Code: "WID-1", Name: "Widget"})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if _, err := env.Engine.CreatePartner(env.Ctx, engine.PartnerCreateOptions{Name: "Acme Steel", Kind: "SUPPLIER"}); err != nil {
		t.Fatalf("create partner: %v", err)
	}
	if _, err := env.Engine.CreatePartner(env.Ctx, engine.PartnerCreateOptions{Name: "ChromeWorks", Kind: "OUTSOURCER"}); err != nil {
		t.Fatalf("create partner: %v", err)
	}
	_, err = env.Engine.SetRouting(env.Ctx, p.ID, []engine.RoutingStepInput{
		{Sequence: 10, ProcessName: "ASSEMBLE", Mode: "INTERNAL"},
		{Sequence: 20, ProcessName: "PLATING", Mode: "외주 가공", PartnerName: "ChromeWorks", UnitCost: decimal.RequireFromString("2.50")},
		{Sequence: 30, ProcessName: "RAW STEEL", Mode: "구매", PartnerName: "Acme Steel", UnitCost: decimal.RequireFromString("1.25")},
	})
	if err != nil {
		t.Fatalf("set routing: %v", err)
	}
	so, err := env.Engine.CreateSalesOrder(env.Ctx, engine.SalesOrderCreateOptions{
		Items:   []engine.SalesOrderItemInput{{ProductID: p.ID, Quantity: 10, UnitPrice: decimal.RequireFromString("9.99")}},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create sales order: %v", err)
	}
	return p, so
}

func TestCreatePlanExpandsRouting(t *testing.T) {
	env := newTestEnv(t)
	p, so := seedWidget(t, env)

	plan, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{SalesOrderID: &so.ID, ActorID: "tester"})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if plan.Status != domain.StatusPlanned {
		t.Fatalf("status = %s, want PLANNED", plan.Status)
	}
	if len(plan.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(plan.Items))
	}
	modes := map[string]domain.PlanItem{}
	for _, it := range plan.Items {
		modes[it.Mode] = it
		if it.Quantity != 10 {
			t.Errorf("item %s quantity = %d, want 10", it.ProcessName, it.Quantity)
		}
	}
	if _, ok := modes[domain.ModeInternal]; !ok {
		t.Fatalf("missing internal item")
	}
	buy, ok := modes[domain.ModePurchase]
	if !ok {
		t.Fatalf("missing purchase item, legacy mode not normalized")
	}
	if !buy.EstimatedCost.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("purchase cost = %s, want 12.5", buy.EstimatedCost)
	}
	sub, ok := modes[domain.ModeOutsourcing]
	if !ok {
		t.Fatalf("missing outsourcing item, legacy mode not normalized")
	}
	if sub.PartnerName != "ChromeWorks" {
		t.Errorf("outsourcing partner = %q", sub.PartnerName)
	}

	// Demand quantity is reserved as in-production.
	stock, err := env.Engine.Repo.GetStock(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if stock.InProductionQuantity != 10 || stock.OnHandQuantity != 0 {
		t.Fatalf("stock = %+v, want in_production 10 on_hand 0", stock)
	}

	// One PENDING order per (mode, partner) group, lines linked back.
	pos, err := env.Engine.Repo.ListOrders(env.Ctx, domain.OrderKindPurchase, 0)
	if err != nil {
		t.Fatalf("list purchase orders: %v", err)
	}
	if len(pos) != 1 {
		t.Fatalf("purchase orders = %d, want 1", len(pos))
	}
	if pos[0].OrderNo != "PO-20240502-001" {
		t.Errorf("order no = %q, want PO-20240502-001", pos[0].OrderNo)
	}
	if pos[0].Status != domain.OrderPending {
		t.Errorf("order status = %s, want PENDING", pos[0].Status)
	}
	po, err := env.Engine.Repo.GetOrder(env.Ctx, domain.OrderKindPurchase, pos[0].ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if len(po.Items) != 1 {
		t.Fatalf("purchase lines = %d, want 1", len(po.Items))
	}
	line := po.Items[0]
	if line.PlanItemID == nil || *line.PlanItemID != buy.ID {
		t.Errorf("line not linked to plan item %d: %+v", buy.ID, line)
	}
	if line.OrderedQuantity != 10 || line.ReceivedQuantity != 0 {
		t.Errorf("line quantities = %d/%d, want 10/0", line.OrderedQuantity, line.ReceivedQuantity)
	}

	oss, err := env.Engine.Repo.ListOrders(env.Ctx, domain.OrderKindOutsourcing, 0)
	if err != nil {
		t.Fatalf("list outsourcing orders: %v", err)
	}
	if len(oss) != 1 || oss[0].OrderNo != "OS-20240502-001" {
		t.Fatalf("outsourcing orders = %+v, want one OS-20240502-001", oss)
	}
}

func TestCreatePlanIdempotent(t *testing.T) {
	env := newTestEnv(t)
	_, so := seedWidget(t, env)

	first, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{SalesOrderID: &so.ID, ActorID: "tester"})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	second, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{SalesOrderID: &so.ID, ActorID: "tester"})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("second create made plan %d, want existing %d", second.ID, first.ID)
	}
	if len(second.Items) != len(first.Items) {
		t.Fatalf("second create changed items: %d vs %d", len(second.Items), len(first.Items))
	}
	// No second batch of orders either.
	pos, _ := env.Engine.Repo.ListOrders(env.Ctx, domain.OrderKindPurchase, 0)
	if len(pos) != 1 {
		t.Fatalf("purchase orders = %d, want 1", len(pos))
	}
}

func TestCreatePlanDemandRefRequired(t *testing.T) {
	env := newTestEnv(t)
	_, so := seedWidget(t, env)
	rep, err := env.Engine.CreateReplenishment(env.Ctx, engine.ReplenishmentCreateOptions{ProductID: 1, Quantity: 5, ActorID: "tester"})
	if err != nil {
		t.Fatalf("create replenishment: %v", err)
	}

	if _, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{ActorID: "tester"}); err == nil {
		t.Fatalf("expected error with no demand reference")
	}
	if _, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{SalesOrderID: &so.ID, ReplenishmentID: &rep.ID, ActorID: "tester"}); err == nil {
		t.Fatalf("expected error with both demand references")
	}
}

func TestCreatePlanSkipsProductWithoutRouting(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProduct(env.Ctx, engine.ProductCreateOptions{Code: "RAW-9", Name: "Bare Part"})
	if err != nil {
		t.Fatal(err)
	}
	rep, err := env.Engine.CreateReplenishment(env.Ctx, engine.ReplenishmentCreateOptions{ProductID: p.ID, Quantity: 3, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	plan, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{ReplenishmentID: &rep.ID, ActorID: "tester"})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if len(plan.Items) != 0 {
		t.Fatalf("items = %d, want 0 for unrouted product", len(plan.Items))
	}
	// The reservation still happens for the demand product.
	stock, err := env.Engine.Repo.GetStock(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stock.InProductionQuantity != 3 {
		t.Fatalf("in_production = %d, want 3", stock.InProductionQuantity)
	}
}

func TestPlanStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	_, so := seedWidget(t, env)
	plan, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{SalesOrderID: &so.ID, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}

	// Legacy synonym is accepted at the boundary.
	plan, err = env.Engine.SetPlanStatus(env.Ctx, plan.ID, "진행중", "tester")
	if err != nil || plan.Status != domain.StatusInProgress {
		t.Fatalf("to IN_PROGRESS via synonym: %v (status %s)", err, plan.Status)
	}
	got, _ := env.Engine.Repo.GetSalesOrder(env.Ctx, so.ID)
	if got.Status != domain.SalesConfirmed {
		t.Fatalf("sales order = %s, want CONFIRMED", got.Status)
	}

	if _, err := env.Engine.SetPlanStatus(env.Ctx, plan.ID, "PLANNED", "tester"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("IN_PROGRESS -> PLANNED = %v, want ErrInvalidState", err)
	}
	if _, err := env.Engine.SetPlanStatus(env.Ctx, plan.ID, "bogus", "tester"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("unknown status = %v, want ErrInvalidInput", err)
	}

	plan, err = env.Engine.SetPlanStatus(env.Ctx, plan.ID, "CANCELLED", "tester")
	if err != nil || plan.Status != domain.StatusCanceled {
		t.Fatalf("to CANCELED via double-L spelling: %v", err)
	}
	if _, err := env.Engine.SetPlanStatus(env.Ctx, plan.ID, "IN_PROGRESS", "tester"); err == nil {
		t.Fatalf("expected CANCELED to be terminal")
	}
}

func TestCompleteAndRollback(t *testing.T) {
	env := newTestEnv(t)
	p, so := seedWidget(t, env)
	plan, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{SalesOrderID: &so.ID, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetPlanStatus(env.Ctx, plan.ID, "IN_PROGRESS", "tester"); err != nil {
		t.Fatal(err)
	}
	plan, err = env.Engine.SetPlanStatus(env.Ctx, plan.ID, "COMPLETED", "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	for _, it := range plan.Items {
		if it.Status != domain.StatusCompleted {
			t.Errorf("item %d = %s, want COMPLETED", it.ID, it.Status)
		}
	}

	pos, _ := env.Engine.Repo.ListOrders(env.Ctx, domain.OrderKindPurchase, 0)
	po, err := env.Engine.Repo.GetOrder(env.Ctx, domain.OrderKindPurchase, pos[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if po.Status != domain.OrderCompleted {
		t.Errorf("order = %s, want COMPLETED", po.Status)
	}
	if po.DeliveryDate == nil || *po.DeliveryDate != "2024-05-02" {
		t.Errorf("delivery date = %v, want 2024-05-02", po.DeliveryDate)
	}
	if po.Items[0].ReceivedQuantity != po.Items[0].OrderedQuantity {
		t.Errorf("line received %d != ordered %d", po.Items[0].ReceivedQuantity, po.Items[0].OrderedQuantity)
	}

	stock, _ := env.Engine.Repo.GetStock(env.Ctx, p.ID)
	if stock.OnHandQuantity != 10 || stock.InProductionQuantity != 0 {
		t.Fatalf("stock after complete = %+v, want on_hand 10 in_production 0", stock)
	}
	got, _ := env.Engine.Repo.GetSalesOrder(env.Ctx, so.ID)
	if got.Status != domain.SalesProductionCompleted {
		t.Fatalf("sales order = %s, want PRODUCTION_COMPLETED", got.Status)
	}

	// Rollback reverses every side effect.
	plan, err = env.Engine.SetPlanStatus(env.Ctx, plan.ID, "IN_PROGRESS", "tester")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	for _, it := range plan.Items {
		if it.Status != domain.StatusInProgress {
			t.Errorf("item %d = %s, want IN_PROGRESS after rollback", it.ID, it.Status)
		}
	}
	po, _ = env.Engine.Repo.GetOrder(env.Ctx, domain.OrderKindPurchase, pos[0].ID)
	if po.Status != domain.OrderPending || po.DeliveryDate != nil {
		t.Errorf("order after rollback = %s delivery %v, want PENDING nil", po.Status, po.DeliveryDate)
	}
	if po.Items[0].ReceivedQuantity != 0 || po.Items[0].Status != domain.OrderPending {
		t.Errorf("line after rollback = %+v, want 0 PENDING", po.Items[0])
	}
	stock, _ = env.Engine.Repo.GetStock(env.Ctx, p.ID)
	if stock.OnHandQuantity != 0 || stock.InProductionQuantity != 10 {
		t.Fatalf("stock after rollback = %+v, want on_hand 0 in_production 10", stock)
	}
	got, _ = env.Engine.Repo.GetSalesOrder(env.Ctx, so.ID)
	if got.Status != domain.SalesConfirmed {
		t.Fatalf("sales order after rollback = %s, want CONFIRMED", got.Status)
	}
}

func TestCompleteLeavesPartiallyReceivedOrderOpen(t *testing.T) {
	env := newTestEnv(t)
	p, so := seedWidget(t, env)
	plan, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{SalesOrderID: &so.ID, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	pos, err := env.Engine.Repo.ListOrders(env.Ctx, domain.OrderKindPurchase, 0)
	if err != nil || len(pos) != 1 {
		t.Fatalf("purchase orders: %v (%d)", err, len(pos))
	}
	// A manually added line on the generated order, tied to no plan item.
	if _, err := env.Engine.DB.ExecContext(env.Ctx,
		`INSERT INTO purchase_order_items(order_id,product_id,plan_item_id,ordered_quantity,received_quantity,unit_price,status) VALUES (?,?,NULL,5,0,'1.25',?)`,
		pos[0].ID, p.ID, domain.OrderPending); err != nil {
		t.Fatal(err)
	}

	if _, err := env.Engine.SetPlanStatus(env.Ctx, plan.ID, "IN_PROGRESS", "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetPlanStatus(env.Ctx, plan.ID, "COMPLETED", "tester"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// The manual line is still outstanding, so the order must not close.
	po, err := env.Engine.Repo.GetOrder(env.Ctx, domain.OrderKindPurchase, pos[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if po.Status != domain.OrderPending || po.DeliveryDate != nil {
		t.Fatalf("order = %s delivery %v, want PENDING with no delivery date", po.Status, po.DeliveryDate)
	}
	for _, l := range po.Items {
		if l.PlanItemID != nil {
			if l.ReceivedQuantity != l.OrderedQuantity || l.Status != domain.OrderCompleted {
				t.Errorf("linked line = %+v, want fully received COMPLETED", l)
			}
		} else if l.ReceivedQuantity != 0 || l.Status != domain.OrderPending {
			t.Errorf("manual line = %+v, want untouched", l)
		}
	}
	// The outsourcing order has only plan lines and closes normally.
	oss, _ := env.Engine.Repo.ListOrders(env.Ctx, domain.OrderKindOutsourcing, 0)
	if len(oss) != 1 || oss[0].Status != domain.OrderCompleted {
		t.Fatalf("outsourcing orders = %+v, want one COMPLETED", oss)
	}
}

func TestCancelReleasesReservation(t *testing.T) {
	env := newTestEnv(t)
	p, so := seedWidget(t, env)
	plan, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{SalesOrderID: &so.ID, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	plan, err = env.Engine.SetPlanStatus(env.Ctx, plan.ID, "CANCELED", "tester")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	for _, it := range plan.Items {
		if it.Status != domain.StatusCanceled {
			t.Errorf("item %d = %s, want CANCELED", it.ID, it.Status)
		}
	}
	stock, _ := env.Engine.Repo.GetStock(env.Ctx, p.ID)
	if stock.InProductionQuantity != 0 || stock.OnHandQuantity != 0 {
		t.Fatalf("stock after cancel = %+v, want 0/0", stock)
	}
	// Generated orders are left to purchasing.
	pos, _ := env.Engine.Repo.ListOrders(env.Ctx, domain.OrderKindPurchase, 0)
	if len(pos) != 1 || pos[0].Status != domain.OrderPending {
		t.Fatalf("purchase orders after cancel = %+v, want one PENDING", pos)
	}
}

func TestStockClampedAtZero(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProduct(env.Ctx, engine.ProductCreateOptions{Code: "CLAMP", Name: "Clamp"})
	if err != nil {
		t.Fatal(err)
	}
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	now := "2024-05-02T09:00:00Z"
	if err := env.Engine.Repo.ReserveStockTx(env.Ctx, tx, p.ID, 5, now); err != nil {
		t.Fatal(err)
	}
	// Releasing more than reserved must floor at zero, never go negative.
	if err := env.Engine.Repo.ReleaseStockTx(env.Ctx, tx, p.ID, 10, now); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Repo.UncompleteStockTx(env.Ctx, tx, p.ID, 7, now); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	stock, err := env.Engine.Repo.GetStock(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stock.OnHandQuantity < 0 || stock.InProductionQuantity < 0 {
		t.Fatalf("negative stock: %+v", stock)
	}
	if stock.InProductionQuantity != 7 {
		t.Fatalf("in_production = %d, want 7 (0 + 7 moved back)", stock.InProductionQuantity)
	}
}

func TestWorkLogCompletionClosesPlan(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProduct(env.Ctx, engine.ProductCreateOptions{Code: "GEAR", Name: "Gear"})
	if err != nil {
		t.Fatal(err)
	}
	rep, err := env.Engine.CreateReplenishment(env.Ctx, engine.ReplenishmentCreateOptions{ProductID: p.ID, Quantity: 4, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	plan, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{
		ReplenishmentID: &rep.ID,
		Items: []engine.PlanItemInput{
			{ProductID: p.ID, ProcessName: "MACHINING", Sequence: 10, Mode: "INTERNAL", Quantity: 4},
		},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	item := plan.Items[0]

	if _, err := env.Engine.RecordWorkLog(env.Ctx, engine.WorkLogOptions{ItemID: item.ID, Quantity: 1, ActorID: "tester"}); err != nil {
		t.Fatalf("first log: %v", err)
	}
	it, _ := env.Engine.Repo.GetPlanItem(env.Ctx, item.ID)
	if it.Status != domain.StatusInProgress {
		t.Fatalf("item after first log = %s, want IN_PROGRESS", it.Status)
	}

	if _, err := env.Engine.RecordWorkLog(env.Ctx, engine.WorkLogOptions{ItemID: item.ID, Quantity: 3, ActorID: "tester"}); err != nil {
		t.Fatalf("final log: %v", err)
	}
	it, _ = env.Engine.Repo.GetPlanItem(env.Ctx, item.ID)
	if it.Status != domain.StatusCompleted {
		t.Fatalf("item after final log = %s, want COMPLETED", it.Status)
	}
	// Completion evaluator closed the plan through the full fan-out.
	got, err := env.Engine.Repo.GetPlan(env.Ctx, plan.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusCompleted {
		t.Fatalf("plan = %s, want COMPLETED", got.Status)
	}
	r, _ := env.Engine.Repo.GetReplenishment(env.Ctx, rep.ID)
	if r.Status != domain.ReplenishCompleted {
		t.Fatalf("replenishment = %s, want COMPLETED", r.Status)
	}
	stock, _ := env.Engine.Repo.GetStock(env.Ctx, p.ID)
	if stock.OnHandQuantity != 4 || stock.InProductionQuantity != 0 {
		t.Fatalf("stock = %+v, want on_hand 4 in_production 0", stock)
	}

	// Zero or negative quantities are rejected.
	if _, err := env.Engine.RecordWorkLog(env.Ctx, engine.WorkLogOptions{ItemID: item.ID, Quantity: 0, ActorID: "tester"}); err == nil {
		t.Fatalf("expected zero-quantity log to fail")
	}
}

func TestDeletePlanOrderHandling(t *testing.T) {
	env := newTestEnv(t)
	_, so := seedWidget(t, env)

	// Default (flag nil, config false): orders survive with lines unlinked.
	plan, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{SalesOrderID: &so.ID, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeletePlan(env.Ctx, plan.ID, nil, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.Repo.GetPlan(env.Ctx, plan.ID); err == nil {
		t.Fatalf("plan still present after delete")
	}
	pos, _ := env.Engine.Repo.ListOrders(env.Ctx, domain.OrderKindPurchase, 0)
	if len(pos) != 1 {
		t.Fatalf("purchase orders = %d, want 1 kept", len(pos))
	}
	po, _ := env.Engine.Repo.GetOrder(env.Ctx, domain.OrderKindPurchase, pos[0].ID)
	if len(po.Items) != 1 || po.Items[0].PlanItemID != nil {
		t.Fatalf("line not unlinked: %+v", po.Items)
	}

	// Explicit true: orders emptied by the cascade are removed.
	plan2, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{SalesOrderID: &so.ID, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	yes := true
	if err := env.Engine.DeletePlan(env.Ctx, plan2.ID, &yes, "tester"); err != nil {
		t.Fatalf("delete with orders: %v", err)
	}
	pos, _ = env.Engine.Repo.ListOrders(env.Ctx, domain.OrderKindPurchase, 0)
	if len(pos) != 1 {
		t.Fatalf("purchase orders = %d, want only the unlinked one left", len(pos))
	}
	oss, _ := env.Engine.Repo.ListOrders(env.Ctx, domain.OrderKindOutsourcing, 0)
	if len(oss) != 1 {
		t.Fatalf("outsourcing orders = %d, want only the unlinked one left", len(oss))
	}
}

func TestPendingItems(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProduct(env.Ctx, engine.ProductCreateOptions{Code: "BOLT", Name: "Bolt"})
	if err != nil {
		t.Fatal(err)
	}
	rep, err := env.Engine.CreateReplenishment(env.Ctx, engine.ReplenishmentCreateOptions{ProductID: p.ID, Quantity: 6, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	plan, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{ReplenishmentID: &rep.ID, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}

	// Items added after creation have no generated order lines yet.
	items := []engine.PlanItemInput{
		{ProductID: p.ID, ProcessName: "BUY BLANKS", Sequence: 10, Mode: "구매", Quantity: 6},
	}
	plan, err = env.Engine.UpdatePlan(env.Ctx, engine.PlanUpdateOptions{PlanID: plan.ID, Items: &items, ActorID: "tester"})
	if err != nil {
		t.Fatalf("update plan: %v", err)
	}
	if len(plan.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(plan.Items))
	}

	pending, err := env.Engine.PendingItems(env.Ctx, "PURCHASE")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != plan.Items[0].ID {
		t.Fatalf("pending = %+v, want the appended item", pending)
	}
	// Legacy synonym resolves to the same mode.
	pending, err = env.Engine.PendingItems(env.Ctx, "구매")
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending via synonym: %v (%d items)", err, len(pending))
	}
	if _, err := env.Engine.PendingItems(env.Ctx, "INTERNAL"); err == nil {
		t.Fatalf("expected INTERNAL to be rejected")
	}
}

func TestDocumentNumberRandomSuffix(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Orders.NumberSuffix = "random"
	p, err := env.Engine.CreateProduct(env.Ctx, engine.ProductCreateOptions{Code: "NUT", Name: "Nut"})
	if err != nil {
		t.Fatal(err)
	}
	so, err := env.Engine.CreateSalesOrder(env.Ctx, engine.SalesOrderCreateOptions{
		Items:   []engine.SalesOrderItemInput{{ProductID: p.ID, Quantity: 1}},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	prefix := "SO-20240502-"
	if !strings.HasPrefix(so.OrderNo, prefix) {
		t.Fatalf("order no = %q, want prefix %s", so.OrderNo, prefix)
	}
	if len(so.OrderNo) != len(prefix)+8 {
		t.Fatalf("order no = %q, want 8-char random suffix", so.OrderNo)
	}
}

func TestUpdatePlanRejectsTerminalStates(t *testing.T) {
	env := newTestEnv(t)
	_, so := seedWidget(t, env)
	plan, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{SalesOrderID: &so.ID, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetPlanStatus(env.Ctx, plan.ID, "CANCELED", "tester"); err != nil {
		t.Fatal(err)
	}
	note := "late edit"
	if _, err := env.Engine.UpdatePlan(env.Ctx, engine.PlanUpdateOptions{PlanID: plan.ID, Note: &note, ActorID: "tester"}); err == nil {
		t.Fatalf("expected update of canceled plan to fail")
	}
}

func TestUpdatePlanCannotDropLinkedItem(t *testing.T) {
	env := newTestEnv(t)
	_, so := seedWidget(t, env)
	plan, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{SalesOrderID: &so.ID, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	// Keep only the internal item; the purchase and outsourcing items have
	// linked order lines and must refuse removal.
	var keep []engine.PlanItemInput
	for _, it := range plan.Items {
		if it.Mode == domain.ModeInternal {
			keep = append(keep, engine.PlanItemInput{
				ID:          it.ID,
				ProductID:   it.ProductID,
				ProcessName: it.ProcessName,
				Sequence:    it.Sequence,
				Quantity:    it.Quantity,
			})
		}
	}
	if _, err := env.Engine.UpdatePlan(env.Ctx, engine.PlanUpdateOptions{PlanID: plan.ID, Items: &keep, ActorID: "tester"}); err == nil {
		t.Fatalf("expected removal of ordered items to fail")
	}
}

func TestCreatePlanRejectsCanceledDemand(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProduct(env.Ctx, engine.ProductCreateOptions{Code: "PIN", Name: "Pin"})
	if err != nil {
		t.Fatal(err)
	}
	rep, err := env.Engine.CreateReplenishment(env.Ctx, engine.ReplenishmentCreateOptions{ProductID: p.ID, Quantity: 2, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Repo.UpdateReplenishmentStatusTx(env.Ctx, tx, rep.ID, domain.ReplenishCanceled); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{ReplenishmentID: &rep.ID, ActorID: "tester"}); err == nil {
		t.Fatalf("expected canceled demand to be rejected")
	}
	// Nothing was written.
	plans, err := env.Engine.Repo.ListPlans(env.Ctx, repo.PlanFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(plans) != 0 {
		t.Fatalf("plans = %d, want none", len(plans))
	}
}
