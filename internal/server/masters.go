package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"fabline/internal/domain"
	"fabline/internal/engine"
)

func registerProducts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-product",
		Method:      http.MethodPost,
		Path:        "/products",
		Summary:     "Create product",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateProductRequest `json:"body"`
	}) (*struct {
		Body domain.Product `json:"body"`
	}, error) {
		p, err := e.CreateProduct(ctx, engine.ProductCreateOptions{
			Code: input.Body.Code,
			Name: input.Body.Name,
			Unit: input.Body.Unit,
			Note: input.Body.Note,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Product `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-products",
		Method:      http.MethodGet,
		Path:        "/products",
		Summary:     "List products",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Product `json:"body"`
	}, error) {
		items, err := e.Repo.ListProducts(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Product `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-product",
		Method:      http.MethodGet,
		Path:        "/products/{id}",
		Summary:     "Get product",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.Product `json:"body"`
	}, error) {
		p, err := e.Repo.GetProduct(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Product `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-routing",
		Method:      http.MethodPut,
		Path:        "/products/{id}/routing",
		Summary:     "Replace product routing",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   int64                `path:"id"`
		Body []RoutingStepRequest `json:"body"`
	}) (*struct {
		Body []RoutingStepResponse `json:"body"`
	}, error) {
		steps := make([]engine.RoutingStepInput, 0, len(input.Body))
		for _, s := range input.Body {
			cost, err := parseMoney(s.UnitCost)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid unit_cost: "+err.Error(), nil)
			}
			steps = append(steps, engine.RoutingStepInput{
				Sequence:    s.Sequence,
				ProcessName: s.ProcessName,
				Mode:        s.Mode,
				PartnerName: s.PartnerName,
				UnitCost:    cost,
			})
		}
		rs, err := e.SetRouting(ctx, input.ID, steps)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RoutingStepResponse `json:"body"`
		}{Body: mapRoutingSteps(rs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-routing",
		Method:      http.MethodGet,
		Path:        "/products/{id}/routing",
		Summary:     "Get product routing",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []RoutingStepResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProduct(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		rs, err := e.Repo.ListRouting(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RoutingStepResponse `json:"body"`
		}{Body: mapRoutingSteps(rs)}, nil
	})
}

func registerPartners(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-partner",
		Method:      http.MethodPost,
		Path:        "/partners",
		Summary:     "Create partner",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreatePartnerRequest `json:"body"`
	}) (*struct {
		Body domain.Partner `json:"body"`
	}, error) {
		p, err := e.CreatePartner(ctx, engine.PartnerCreateOptions{
			Name:    input.Body.Name,
			Kind:    input.Body.Kind,
			Contact: input.Body.Contact,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Partner `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-partners",
		Method:      http.MethodGet,
		Path:        "/partners",
		Summary:     "List partners",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Partner `json:"body"`
	}, error) {
		items, err := e.Repo.ListPartners(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Partner `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerSales(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-sales-order",
		Method:      http.MethodPost,
		Path:        "/sales/orders",
		Summary:     "Create sales order",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateSalesOrderRequest `json:"body"`
	}) (*struct {
		Body SalesOrderResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items := make([]engine.SalesOrderItemInput, 0, len(input.Body.Items))
		for _, it := range input.Body.Items {
			price, err := parseMoney(it.UnitPrice)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid unit_price: "+err.Error(), nil)
			}
			items = append(items, engine.SalesOrderItemInput{
				ProductID: it.ProductID,
				Quantity:  it.Quantity,
				UnitPrice: price,
			})
		}
		so, err := e.CreateSalesOrder(ctx, engine.SalesOrderCreateOptions{
			PartnerID: input.Body.PartnerID,
			OrderDate: input.Body.OrderDate,
			Note:      input.Body.Note,
			Items:     items,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SalesOrderResponse `json:"body"`
		}{Body: salesOrderResponse(so)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sales-orders",
		Method:      http.MethodGet,
		Path:        "/sales/orders",
		Summary:     "List sales orders",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []SalesOrderResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListSalesOrders(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]SalesOrderResponse, 0, len(items))
		for _, so := range items {
			res = append(res, salesOrderResponse(so))
		}
		return &struct {
			Body []SalesOrderResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-sales-order",
		Method:      http.MethodGet,
		Path:        "/sales/orders/{id}",
		Summary:     "Get sales order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body SalesOrderResponse `json:"body"`
	}, error) {
		so, err := e.Repo.GetSalesOrder(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SalesOrderResponse `json:"body"`
		}{Body: salesOrderResponse(so)}, nil
	})
}

func registerInventory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-replenishment",
		Method:      http.MethodPost,
		Path:        "/inventory/replenishments",
		Summary:     "Create stock replenishment request",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateReplenishmentRequest `json:"body"`
	}) (*struct {
		Body domain.Replenishment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rep, err := e.CreateReplenishment(ctx, engine.ReplenishmentCreateOptions{
			ProductID:   input.Body.ProductID,
			Quantity:    input.Body.Quantity,
			RequestDate: input.Body.RequestDate,
			TargetDate:  input.Body.TargetDate,
			Note:        input.Body.Note,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Replenishment `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-replenishments",
		Method:      http.MethodGet,
		Path:        "/inventory/replenishments",
		Summary:     "List stock replenishment requests",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Replenishment `json:"body"`
	}, error) {
		items, err := e.Repo.ListReplenishments(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Replenishment `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-stocks",
		Method:      http.MethodGet,
		Path:        "/inventory/stocks",
		Summary:     "List stock counters",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Stock `json:"body"`
	}, error) {
		items, err := e.Repo.ListStocks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Stock `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-stock",
		Method:      http.MethodGet,
		Path:        "/inventory/stocks/{product_id}",
		Summary:     "Get stock counters for one product",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProductID int64 `path:"product_id"`
	}) (*struct {
		Body domain.Stock `json:"body"`
	}, error) {
		s, err := e.Repo.GetStock(ctx, input.ProductID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Stock `json:"body"`
		}{Body: s}, nil
	})
}
