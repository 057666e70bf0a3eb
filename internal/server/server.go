package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"plantline/internal/alloc"
	"plantline/internal/domain"
	"plantline/internal/engine"
	"plantline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden_approver_role"`
	Message string         `json:"message" example:"role not authorized to approve overrides"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Plantline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors map to 400 bad_request.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Plantline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerAssets(group, cfg.Engine)
	registerEngineers(group, cfg.Engine)
	registerSchedule(group, cfg.Engine)
	registerOrders(group, cfg.Engine)
	registerOverrides(group, cfg.Engine)
	registerAlerts(group, cfg.Engine)
	registerAudit(group, cfg.Engine)
	registerReadiness(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startHookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, alloc.ErrUnauthorizedRole):
		return newAPIError(http.StatusForbidden, "forbidden_approver_role", err.Error(), nil)
	case errors.Is(err, alloc.ErrJustificationTooShort):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
	case errors.Is(err, engine.ErrEngineerAssigned):
		return newAPIError(http.StatusConflict, "engineer_assigned", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "already completed"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Plantline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Plant status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		assets, err := e.Repo.ListAssets(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		floor := 20.0
		if e.Config != nil && e.Config.Scheduling.OperationalFloor > 0 {
			floor = e.Config.Scheduling.OperationalFloor
		}
		operational := 0
		for _, a := range assets {
			if a.Operational(floor) {
				operational++
			}
		}
		open, err := e.Repo.ListOpenOrders(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		engineers, err := e.Repo.ListEngineers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		plantID := ""
		if e.Config != nil {
			plantID = e.Config.Plant.ID
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"plant_id":    plantID,
			"assets":      len(assets),
			"operational": operational,
			"open_orders": len(open),
			"engineers":   len(engineers),
		}}, nil
	})
}

func registerAssets(api huma.API, e engine.Engine) {
	floor := func() float64 {
		if e.Config != nil && e.Config.Scheduling.OperationalFloor > 0 {
			return e.Config.Scheduling.OperationalFloor
		}
		return 20.0
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-asset",
		Method:        http.MethodPost,
		Path:          "/assets",
		Summary:       "Register asset",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateAssetRequest `json:"body"`
	}) (*struct {
		Body AssetResponse `json:"body"`
	}, error) {
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "asset_id is required", nil)
		}
		asset := assetFromRequest(input.Body)
		created, err := e.CreateAsset(ctx, asset)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssetResponse `json:"body"`
		}{Body: assetResponse(created, floor())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assets",
		Method:      http.MethodGet,
		Path:        "/assets",
		Summary:     "List assets",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []AssetResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListAssets(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AssetResponse `json:"body"`
		}{Body: mapAssets(items, floor())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-asset",
		Method:      http.MethodGet,
		Path:        "/assets/{asset_id}",
		Summary:     "Get asset",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AssetID string `path:"asset_id"`
	}) (*struct {
		Body AssetResponse `json:"body"`
	}, error) {
		a, err := e.Repo.GetAsset(ctx, input.AssetID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssetResponse `json:"body"`
		}{Body: assetResponse(a, floor())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-asset",
		Method:      http.MethodDelete,
		Path:        "/assets/{asset_id}",
		Summary:     "Decommission asset",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AssetID string `path:"asset_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DecommissionAsset(ctx, input.AssetID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "chaos-degrade",
		Method:      http.MethodPost,
		Path:        "/assets/chaos",
		Summary:     "Randomly degrade asset health",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		affected, err := e.ChaosDegrade(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"affected_units": affected}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-health",
		Method:      http.MethodPost,
		Path:        "/assets/reset-health",
		Summary:     "Restore all assets to full health",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := e.ResetHealth(ctx); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "reset"}}, nil
	})
}

func assetFromRequest(req CreateAssetRequest) domain.Asset {
	a := domain.Asset{
		ID:                     req.ID,
		Type:                   req.Type,
		RequiredCertifications: req.RequiredCertifications,
		ResponsibleTeams:       req.ResponsibleTeams,
	}
	if req.HealthScore != nil {
		a.HealthScore = *req.HealthScore
	}
	if req.RiskLevel != nil {
		a.RiskLevel = *req.RiskLevel
	}
	return a
}

func engineerFromRequest(req CreateEngineerRequest) domain.Engineer {
	return domain.Engineer{
		ID:             req.ID,
		Name:           req.Name,
		Team:           stringOrEmpty(req.Team),
		Certifications: req.Certifications,
		SkillMatrix:    req.SkillMatrix,
		Availability:   stringOrEmpty(req.Availability),
	}
}

func registerEngineers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-engineer",
		Method:        http.MethodPost,
		Path:          "/engineers",
		Summary:       "Register engineer",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateEngineerRequest `json:"body"`
	}) (*struct {
		Body EngineerResponse `json:"body"`
	}, error) {
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "engineer_id is required", nil)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		created, err := e.CreateEngineer(ctx, engineerFromRequest(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EngineerResponse `json:"body"`
		}{Body: engineerResponse(created)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-engineers",
		Method:      http.MethodGet,
		Path:        "/engineers",
		Summary:     "List engineers with live fatigue",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []EngineerResponse `json:"body"`
	}, error) {
		items, err := e.ListEngineers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EngineerResponse `json:"body"`
		}{Body: mapEngineers(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-engineer",
		Method:      http.MethodDelete,
		Path:        "/engineers/{engineer_id}",
		Summary:     "Remove engineer",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		EngineerID string `path:"engineer_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveEngineer(ctx, input.EngineerID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerSchedule(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "run-schedule",
		Method:      http.MethodPost,
		Path:        "/schedule",
		Summary:     "Run one allocation pass",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.ScheduleResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		result, err := e.RunSchedule(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ScheduleResult `json:"body"`
		}{Body: result}, nil
	})
}

func registerOrders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-orders",
		Method:      http.MethodGet,
		Path:        "/orders",
		Summary:     "List maintenance orders",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" required:"false"`
	}) (*struct {
		Body []OrderResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListOrders(ctx, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []OrderResponse `json:"body"`
		}{Body: mapOrders(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-order",
		Method:      http.MethodGet,
		Path:        "/orders/{order_id}",
		Summary:     "Get maintenance order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrderID string `path:"order_id"`
	}) (*struct {
		Body OrderResponse `json:"body"`
	}, error) {
		o, err := e.Repo.GetOrder(ctx, input.OrderID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrderResponse `json:"body"`
		}{Body: orderResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-order",
		Method:      http.MethodPost,
		Path:        "/orders/{order_id}/complete",
		Summary:     "Complete a maintenance order",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		OrderID string `path:"order_id"`
	}) (*struct {
		Body OrderResponse `json:"body"`
	}, error) {
		o, err := e.CompleteOrder(ctx, input.OrderID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrderResponse `json:"body"`
		}{Body: orderResponse(o)}, nil
	})
}

func registerOverrides(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "approve-override",
		Method:        http.MethodPost,
		Path:          "/overrides",
		Summary:       "Approve a constraint override",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body ApproveOverrideRequest `json:"body"`
	}) (*struct {
		Body OverrideResponse `json:"body"`
	}, error) {
		req := input.Body
		if req.Constraint == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "constraint is required", nil)
		}
		if req.TargetID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "target_id is required", nil)
		}
		expires, err := resolveExpiry(req, e.Now)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		ov, err := e.ApproveOverride(ctx, req.Constraint, req.TargetID, req.Justification, req.ApprovedBy, req.ApproverRole, expires)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OverrideResponse `json:"body"`
		}{Body: overrideResponse(ov, e.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-overrides",
		Method:      http.MethodGet,
		Path:        "/overrides",
		Summary:     "List overrides",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []OverrideResponse `json:"body"`
	}, error) {
		items, err := e.ListOverrides(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []OverrideResponse `json:"body"`
		}{Body: mapOverrides(items, e.Now())}, nil
	})
}

func resolveExpiry(req ApproveOverrideRequest, now func() time.Time) (time.Time, error) {
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid expires_at: %w", err)
		}
		return t, nil
	}
	if req.DurationHours != nil && *req.DurationHours > 0 {
		return now().Add(time.Duration(*req.DurationHours) * time.Hour), nil
	}
	return time.Time{}, errors.New("expires_at or duration_hours is required")
}

func registerAlerts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-alerts",
		Method:      http.MethodGet,
		Path:        "/alerts",
		Summary:     "List staffing-gap alerts",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" required:"false"`
	}) (*struct {
		Body []domain.Alert `json:"body"`
	}, error) {
		alerts, err := e.Alerts(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if alerts == nil {
			alerts = []domain.Alert{}
		}
		return &struct {
			Body []domain.Alert `json:"body"`
		}{Body: alerts}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "escalate-alerts",
		Method:      http.MethodPost,
		Path:        "/alerts/escalate",
		Summary:     "Escalate overdue staffing gaps",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		n, err := e.EscalateAlerts(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: map[string]int{"escalated": n}}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "audit-log",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Audit log, newest first",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" required:"false"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := e.AuditLog(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

func registerReadiness(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "readiness",
		Method:      http.MethodGet,
		Path:        "/readiness",
		Summary:     "Certification coverage per skill",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []engine.ReadinessEntry `json:"body"`
	}, error) {
		entries, err := e.Readiness(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []engine.ReadinessEntry `json:"body"`
		}{Body: mapReadiness(entries)}, nil
	})
}
