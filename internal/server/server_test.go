package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"fabline/internal/config"
	"fabline/internal/db"
	"fabline/internal/engine"
	"fabline/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

var actorHeader = map[string]string{"X-Actor-Id": "tester"}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	e := engine.New(conn, cfg, nil, nil)
	e.Now = func() time.Time { return time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC) }
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

// seedWidget builds masters and a sales order through the API and returns
// the sales order id.
func seedWidget(t *testing.T, srv *testServer) (productID, salesOrderID int64) {
	t.Helper()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/products", map[string]any{
		"code": "WID-1", "name": "Widget",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create product status %d: %s", res.StatusCode, data)
	}
	var product struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(data, &product); err != nil {
		t.Fatalf("unmarshal product: %v", err)
	}

	for _, name := range []string{"Acme Steel", "ChromeWorks"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/partners", map[string]any{"name": name}, actorHeader)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("create partner status %d: %s", res.StatusCode, data)
		}
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/products/"+itoa(product.ID)+"/routing", []map[string]any{
		{"sequence": 10, "process_name": "ASSEMBLE", "mode": "INTERNAL"},
		{"sequence": 20, "process_name": "PLATING", "mode": "외주", "partner_name": "ChromeWorks", "unit_cost": "2.50"},
		{"sequence": 30, "process_name": "RAW STEEL", "mode": "구매", "partner_name": "Acme Steel", "unit_cost": "1.25"},
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set routing status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sales/orders", map[string]any{
		"items": []map[string]any{{"product_id": product.ID, "quantity": 10, "unit_price": "9.99"}},
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create sales order status %d: %s", res.StatusCode, data)
	}
	var so struct {
		ID      int64  `json:"id"`
		OrderNo string `json:"order_no"`
	}
	if err := json.Unmarshal(data, &so); err != nil {
		t.Fatalf("unmarshal sales order: %v", err)
	}
	if so.OrderNo != "SO-20240502-001" {
		t.Fatalf("order no = %q, want SO-20240502-001", so.OrderNo)
	}
	return product.ID, so.ID
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

func TestPlanLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	_, soID := seedWidget(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/production/plans", map[string]any{
		"sales_order_id": soID,
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create plan status %d: %s", res.StatusCode, data)
	}
	var plan PlanResponse
	if err := json.Unmarshal(data, &plan); err != nil {
		t.Fatalf("unmarshal plan: %v", err)
	}
	if plan.Status != "PLANNED" || len(plan.Items) != 3 {
		t.Fatalf("plan = %s with %d items, want PLANNED with 3", plan.Status, len(plan.Items))
	}

	// Same demand again is a no-op returning the same plan.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/production/plans", map[string]any{
		"sales_order_id": soID,
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("repeat create status %d: %s", res.StatusCode, data)
	}
	var again PlanResponse
	_ = json.Unmarshal(data, &again)
	if again.ID != plan.ID {
		t.Fatalf("repeat create made plan %d, want %d", again.ID, plan.ID)
	}

	// Generated purchase order is readable.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/purchasing/purchase-orders", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list purchase orders status %d: %s", res.StatusCode, data)
	}
	var orders []OrderResponse
	if err := json.Unmarshal(data, &orders); err != nil {
		t.Fatalf("unmarshal orders: %v", err)
	}
	if len(orders) != 1 || orders[0].OrderNo != "PO-20240502-001" {
		t.Fatalf("orders = %+v, want one PO-20240502-001", orders)
	}

	// Complete via the legacy synonym, then verify the fan-out.
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/production/plans/"+itoa(plan.ID)+"/status", map[string]any{
		"status": "완료",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, data)
	}
	var completed PlanResponse
	_ = json.Unmarshal(data, &completed)
	if completed.Status != "COMPLETED" {
		t.Fatalf("plan = %s, want COMPLETED", completed.Status)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/purchasing/purchase-orders/"+itoa(orders[0].ID), nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get order status %d: %s", res.StatusCode, data)
	}
	var po OrderResponse
	_ = json.Unmarshal(data, &po)
	if po.Status != "COMPLETED" || po.DeliveryDate == nil {
		t.Fatalf("order after completion = %s delivery %v", po.Status, po.DeliveryDate)
	}

	// A completed plan cannot go back to PLANNED.
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/production/plans/"+itoa(plan.ID)+"/status", map[string]any{
		"status": "PLANNED",
	}, actorHeader)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid transition status %d, want 400: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "invalid_state" || envelope.Error.Message == "" {
		t.Fatalf("error envelope = %s, want invalid_state code", data)
	}

	// Rollback, then delete keeping the orders.
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/production/plans/"+itoa(plan.ID)+"/status", map[string]any{
		"status": "IN_PROGRESS",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("rollback status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/production/plans/"+itoa(plan.ID)+"?delete_related_orders=false", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/production/plans/"+itoa(plan.ID), nil, actorHeader)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("get deleted plan status %d, want 404: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/purchasing/purchase-orders", nil, actorHeader)
	_ = json.Unmarshal(data, &orders)
	if len(orders) != 1 {
		t.Fatalf("orders after delete = %d, want 1 kept", len(orders))
	}
}

func TestWorkLogCompletesItemOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/products", map[string]any{
		"code": "GEAR", "name": "Gear",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create product: %s", data)
	}
	var product struct {
		ID int64 `json:"id"`
	}
	_ = json.Unmarshal(data, &product)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/inventory/replenishments", map[string]any{
		"product_id": product.ID, "quantity": 4,
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create replenishment: %s", data)
	}
	var rep struct {
		ID int64 `json:"id"`
	}
	_ = json.Unmarshal(data, &rep)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/production/plans", map[string]any{
		"replenishment_id": rep.ID,
		"items": []map[string]any{
			{"product_id": product.ID, "process_name": "MACHINING", "sequence": 10, "mode": "INTERNAL", "quantity": 4},
		},
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create plan: %s", data)
	}
	var plan PlanResponse
	_ = json.Unmarshal(data, &plan)
	itemID := plan.Items[0].ID

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/production/plan-items/"+itoa(itemID)+"/work-logs", map[string]any{
		"quantity": 4,
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("work log status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/production/plans/"+itoa(plan.ID), nil, actorHeader)
	var got PlanResponse
	_ = json.Unmarshal(data, &got)
	if got.Status != "COMPLETED" {
		t.Fatalf("plan after full work log = %s, want COMPLETED", got.Status)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/inventory/stocks/"+itoa(product.ID), nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get stock status %d: %s", res.StatusCode, data)
	}
	var stock struct {
		OnHand       int `json:"on_hand_quantity"`
		InProduction int `json:"in_production_quantity"`
	}
	_ = json.Unmarshal(data, &stock)
	if stock.OnHand != 4 || stock.InProduction != 0 {
		t.Fatalf("stock = %+v, want on_hand 4 in_production 0", stock)
	}

	// Invalid quantity is a 400.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/quality/defects", map[string]any{
		"plan_item_id": itemID, "defect_type": "SCRATCH", "quantity": 0,
	}, actorHeader)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("zero defect quantity status %d, want 400: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/quality/defects", map[string]any{
		"plan_item_id": itemID, "defect_type": "SCRATCH", "quantity": 1,
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("record defect status %d: %s", res.StatusCode, data)
	}
}

func TestAuthModes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// Health is open.
	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d, want 200", res.StatusCode)
	}

	// Anything else requires credentials.
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/products", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status %d, want 401: %s", res.StatusCode, data)
	}

	// dev-login mints a usable bearer token.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev-login", map[string]any{
		"actor_id": "dev",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev-login status %d: %s", res.StatusCode, data)
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("no token in dev-login response: %s", data)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/products", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bearer request status %d: %s", res.StatusCode, data)
	}

	// A garbage token is rejected.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/products", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status %d, want 401: %s", res.StatusCode, data)
	}

	// API keys authenticate via X-Api-Key.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/api-keys", map[string]any{
		"actor_id": "robot", "name": "ci",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create api key status %d: %s", res.StatusCode, data)
	}
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil || key.Key == "" {
		t.Fatalf("no plaintext key returned: %s", data)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/products", nil, map[string]string{
		"X-Api-Key": key.Key,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key request status %d: %s", res.StatusCode, data)
	}
}

func TestNotFoundAndValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/production/plans/9999", nil, actorHeader)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing plan status %d, want 404: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "not_found" {
		t.Fatalf("error code = %q, want not_found: %s", envelope.Error.Code, data)
	}

	// Plan creation without a demand reference is rejected.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/production/plans", map[string]any{}, actorHeader)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("no demand status %d, want 400: %s", res.StatusCode, data)
	}

	// Events endpoint records the activity trail.
	_, _ = seedWidget(t, srv)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?entity_kind=sales_order", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, data)
	}
	var evs []EventResponse
	if err := json.Unmarshal(data, &evs); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(evs) == 0 || evs[0].Type != "sales_order.created" {
		t.Fatalf("events = %+v, want sales_order.created", evs)
	}
}

func TestOpenAPISpecConcurrentFetch(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	bodies := make([][]byte, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range bodies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodGet, srv.URL+"/v0/openapi.json", nil)
			if err != nil {
				errs[i] = err
				return
			}
			req.Header.Set("X-Actor-Id", "tester")
			res, err := client.Do(req)
			if err != nil {
				errs[i] = err
				return
			}
			defer res.Body.Close()
			if res.StatusCode != http.StatusOK {
				errs[i] = fmt.Errorf("status %d", res.StatusCode)
				return
			}
			bodies[i], errs[i] = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	if len(bodies[0]) == 0 || !bytes.Equal(bodies[0], bodies[1]) {
		t.Fatalf("concurrent spec fetches differ: %d vs %d bytes", len(bodies[0]), len(bodies[1]))
	}
}
