package server

import (
	"context"
	"net/http"
	"reflect"

	"github.com/danielgtaylor/huma/v2"

	"fabline/internal/domain"
	"fabline/internal/engine"
	"fabline/internal/repo"
)

// optionalBoolParam is an optional boolean query parameter that distinguishes
// "not provided" from an explicit value. Huma does not allow pointer types for
// path/query/header parameters, so this implements its ParamWrapper and
// ParamReactor interfaces instead.
type optionalBoolParam struct {
	Value bool
	IsSet bool
}

func (o *optionalBoolParam) Receiver() reflect.Value {
	return reflect.ValueOf(o).Elem().Field(0)
}

func (o *optionalBoolParam) OnParamSet(isSet bool, parsed any) {
	o.IsSet = isSet
}

func (o optionalBoolParam) Schema(r huma.Registry) *huma.Schema {
	return &huma.Schema{Type: huma.TypeBoolean}
}

func (o optionalBoolParam) ptr() *bool {
	if !o.IsSet {
		return nil
	}
	v := o.Value
	return &v
}

func registerPlans(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-plan",
		Method:      http.MethodPost,
		Path:        "/production/plans",
		Summary:     "Create production plan",
		Description: "Creates a plan for one demand reference. Re-creating for the same reference returns the existing active plan.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreatePlanRequest `json:"body"`
	}) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := planItemInputs(input.Body.Items)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid estimated_cost: "+err.Error(), nil)
		}
		p, err := e.CreatePlan(ctx, engine.PlanCreateOptions{
			SalesOrderID:    input.Body.SalesOrderID,
			ReplenishmentID: input.Body.ReplenishmentID,
			PlanDate:        input.Body.PlanDate,
			Note:            input.Body.Note,
			Items:           items,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: planResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-plans",
		Method:      http.MethodGet,
		Path:        "/production/plans",
		Summary:     "List production plans",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body []PlanResponse `json:"body"`
	}, error) {
		status := input.Status
		if status != "" {
			parsed, err := domain.ParsePlanStatus(status)
			if err != nil {
				return nil, handleError(err)
			}
			status = parsed
		}
		items, err := e.Repo.ListPlans(ctx, repo.PlanFilters{Status: status, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []PlanResponse `json:"body"`
		}{Body: mapPlans(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-plan",
		Method:      http.MethodGet,
		Path:        "/production/plans/{id}",
		Summary:     "Get production plan",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetPlan(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		p.Items, err = e.Repo.ListPlanItems(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: planResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-plan",
		Method:      http.MethodPut,
		Path:        "/production/plans/{id}",
		Summary:     "Update production plan",
		Description: "Replaces header fields. When items are supplied they are merged by id; removing an item with linked order lines is rejected.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   int64             `path:"id"`
		Body UpdatePlanRequest `json:"body"`
	}) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.PlanUpdateOptions{
			PlanID:   input.ID,
			PlanDate: input.Body.PlanDate,
			Note:     input.Body.Note,
			ActorID:  actorID,
		}
		if input.Body.Items != nil {
			items, err := planItemInputs(*input.Body.Items)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid estimated_cost: "+err.Error(), nil)
			}
			opts.Items = &items
		}
		p, err := e.UpdatePlan(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: planResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-plan-status",
		Method:      http.MethodPatch,
		Path:        "/production/plans/{id}/status",
		Summary:     "Transition plan status",
		Description: "Drives the plan state machine and synchronizes linked orders, stock counters, and the demand reference.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   int64                `path:"id"`
		Body SetPlanStatusRequest `json:"body"`
	}) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SetPlanStatus(ctx, input.ID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: planResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-plan",
		Method:      http.MethodDelete,
		Path:        "/production/plans/{id}",
		Summary:     "Delete production plan",
		Description: "Cascades over work logs, defects, generated order lines, and items. delete_related_orders picks between removing related orders and keeping them unlinked.",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID                  int64 `path:"id"`
		DeleteRelatedOrders optionalBoolParam `query:"delete_related_orders"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeletePlan(ctx, input.ID, input.DeleteRelatedOrders.ptr(), actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"deleted": true, "id": input.ID}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-plan-items",
		Method:      http.MethodGet,
		Path:        "/production/plans/{id}/items",
		Summary:     "List plan items",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []PlanItemResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetPlan(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListPlanItems(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []PlanItemResponse `json:"body"`
		}{Body: mapPlanItems(items)}, nil
	})
}

func registerPlanItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "update-plan-item",
		Method:      http.MethodPatch,
		Path:        "/production/plan-items/{id}",
		Summary:     "Update plan item",
		Description: "Partial update. Setting status COMPLETED runs the plan completion evaluator.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   int64                 `path:"id"`
		Body UpdatePlanItemRequest `json:"body"`
	}) (*struct {
		Body PlanItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.UpdatePlanItem(ctx, engine.PlanItemUpdateOptions{
			ItemID:      input.ID,
			ProcessName: input.Body.ProcessName,
			Sequence:    input.Body.Sequence,
			Quantity:    input.Body.Quantity,
			PartnerName: input.Body.PartnerName,
			Status:      input.Body.Status,
			WorkerID:    input.Body.WorkerID,
			EquipmentID: input.Body.EquipmentID,
			StartDate:   input.Body.StartDate,
			EndDate:     input.Body.EndDate,
			Note:        input.Body.Note,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanItemResponse `json:"body"`
		}{Body: planItemResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-work-log",
		Method:      http.MethodPost,
		Path:        "/production/plan-items/{id}/work-logs",
		Summary:     "Record produced quantity",
		Description: "Appends a work log. Reaching the item quantity completes the item and may complete the plan.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   int64                `path:"id"`
		Body CreateWorkLogRequest `json:"body"`
	}) (*struct {
		Body WorkLogResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		wl, err := e.RecordWorkLog(ctx, engine.WorkLogOptions{
			ItemID:   input.ID,
			WorkerID: input.Body.WorkerID,
			WorkDate: input.Body.WorkDate,
			Quantity: input.Body.Quantity,
			Note:     input.Body.Note,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkLogResponse `json:"body"`
		}{Body: workLogResponse(wl)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-work-logs",
		Method:      http.MethodGet,
		Path:        "/production/plan-items/{id}/work-logs",
		Summary:     "List work logs for a plan item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []WorkLogResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetPlanItem(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListWorkLogs(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]WorkLogResponse, 0, len(items))
		for _, wl := range items {
			res = append(res, workLogResponse(wl))
		}
		return &struct {
			Body []WorkLogResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerQuality(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-defect",
		Method:      http.MethodPost,
		Path:        "/quality/defects",
		Summary:     "Record quality defect",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateDefectRequest `json:"body"`
	}) (*struct {
		Body domain.Defect `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.RecordDefect(ctx, engine.DefectOptions{
			ItemID:     input.Body.PlanItemID,
			DefectType: input.Body.DefectType,
			Quantity:   input.Body.Quantity,
			Note:       input.Body.Note,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Defect `json:"body"`
		}{Body: d}, nil
	})
}

func registerPurchasing(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "purchase-pending-items",
		Method:      http.MethodGet,
		Path:        "/purchasing/purchase/pending-items",
		Summary:     "Plan items awaiting a purchase order",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []PlanItemResponse `json:"body"`
	}, error) {
		items, err := e.PendingItems(ctx, domain.ModePurchase)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []PlanItemResponse `json:"body"`
		}{Body: mapPlanItems(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "outsourcing-pending-items",
		Method:      http.MethodGet,
		Path:        "/purchasing/outsourcing/pending-items",
		Summary:     "Plan items awaiting an outsourcing order",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []PlanItemResponse `json:"body"`
	}, error) {
		items, err := e.PendingItems(ctx, domain.ModeOutsourcing)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []PlanItemResponse `json:"body"`
		}{Body: mapPlanItems(items)}, nil
	})

	registerOrderReads(api, e, domain.OrderKindPurchase, "purchase-orders")
	registerOrderReads(api, e, domain.OrderKindOutsourcing, "outsourcing-orders")
}

func registerOrderReads(api huma.API, e engine.Engine, kind, slug string) {
	huma.Register(api, huma.Operation{
		OperationID: "list-" + slug,
		Method:      http.MethodGet,
		Path:        "/purchasing/" + slug,
		Summary:     "List " + kind + " orders",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit"`
	}) (*struct {
		Body []OrderResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListOrders(ctx, kind, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []OrderResponse `json:"body"`
		}{Body: mapOrders(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-" + slug,
		Method:      http.MethodGet,
		Path:        "/purchasing/" + slug + "/{id}",
		Summary:     "Get " + kind + " order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body OrderResponse `json:"body"`
	}, error) {
		o, err := e.Repo.GetOrder(ctx, kind, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrderResponse `json:"body"`
		}{Body: orderResponse(o)}, nil
	})
}
