package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"dealflow/internal/audit"
	"dealflow/internal/domain"
	"dealflow/internal/engine"
	"dealflow/internal/lifecycle"
	"dealflow/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"no_eligible_agency"`
	Message string         `json:"message" example:"no agency in the queue can take this project"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope shared by every endpoint.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// defaultActor names unauthenticated callers; the deployment in front of this
// service is expected to set X-Actor-Id.
const defaultActor = "local-user"

func actorFrom(header string) string {
	if header == "" {
		return defaultActor
	}
	return header
}

// New returns an HTTP handler exposing the Dealflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// schema-level request validation maps to 400, not 422
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Dealflow API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAgencies(group, cfg.Engine)
	registerQueue(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerReports(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

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
	case errors.Is(err, engine.ErrDuplicateAgency):
		return newAPIError(http.StatusConflict, "duplicate_agency", err.Error(), nil)
	case errors.Is(err, engine.ErrNoEligibleAgency):
		return newAPIError(http.StatusConflict, "no_eligible_agency", err.Error(), nil)
	case errors.Is(err, engine.ErrRankConflict):
		return newAPIError(http.StatusConflict, "rank_conflict", err.Error(), map[string]any{"retryable": true})
	case errors.Is(err, engine.ErrUnknownAgency), errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var te lifecycle.InvalidTransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", err.Error(), map[string]any{
			"from_status": te.From,
			"to_status":   te.To,
		})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field})
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
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
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Dealflow API Docs</title>
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

func registerAgencies(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-agency",
		Method:        http.MethodPost,
		Path:          "/agencies",
		Summary:       "Register agency",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Actor string                `header:"X-Actor-Id"`
		Body  RegisterAgencyRequest `json:"body"`
	}) (*struct {
		Body domain.Agency `json:"body"`
	}, error) {
		a, err := e.RegisterAgency(ctx, engine.AgencyOptions{
			ID:                 input.Body.ID,
			Name:               input.Body.Name,
			Tier:               input.Body.Tier,
			SatisfactionRating: input.Body.SatisfactionRating,
			CompletionRate:     input.Body.CompletionRate,
			ActorID:            actorFrom(input.Actor),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agency `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agencies",
		Method:      http.MethodGet,
		Path:        "/agencies",
		Summary:     "List agencies",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Agency `json:"body"`
	}, error) {
		items, err := e.Repo.ListAgencies(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Agency `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agency",
		Method:      http.MethodGet,
		Path:        "/agencies/{agency_id}",
		Summary:     "Get agency",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgencyID string `path:"agency_id"`
	}) (*struct {
		Body domain.Agency `json:"body"`
	}, error) {
		a, err := e.Repo.GetAgency(ctx, input.AgencyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agency `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh-agency",
		Method:      http.MethodPatch,
		Path:        "/agencies/{agency_id}",
		Summary:     "Refresh agency facts",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgencyID string                `path:"agency_id"`
		Actor    string                `header:"X-Actor-Id"`
		Body     RegisterAgencyRequest `json:"body"`
	}) (*struct {
		Body domain.Agency `json:"body"`
	}, error) {
		a, err := e.RefreshAgency(ctx, engine.AgencyOptions{
			ID:                 input.AgencyID,
			Name:               input.Body.Name,
			Tier:               input.Body.Tier,
			SatisfactionRating: input.Body.SatisfactionRating,
			CompletionRate:     input.Body.CompletionRate,
			ActorID:            actorFrom(input.Actor),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agency `json:"body"`
		}{Body: a}, nil
	})
}

func registerQueue(api huma.API, e *engine.Engine) {
	type agencyPath struct {
		AgencyID string `path:"agency_id"`
		Actor    string `header:"X-Actor-Id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-queue",
		Method:      http.MethodGet,
		Path:        "/queue",
		Summary:     "Queue snapshot ordered by position",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.QueueEntry `json:"body"`
	}, error) {
		entries, err := e.QueueSnapshot(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.QueueEntry `json:"body"`
		}{Body: entries}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "queue-insert",
		Method:        http.MethodPost,
		Path:          "/queue",
		Summary:       "Add agency to the distribution queue",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Actor string             `header:"X-Actor-Id"`
		Body  QueueInsertRequest `json:"body"`
	}) (*struct {
		Body domain.QueueEntry `json:"body"`
	}, error) {
		entry, err := e.QueueInsert(ctx, input.Body.AgencyID, input.Body.MaxCapacity, actorFrom(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.QueueEntry `json:"body"`
		}{Body: entry}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "queue-remove",
		Method:      http.MethodDelete,
		Path:        "/queue/{agency_id}",
		Summary:     "Remove agency from the queue",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *agencyPath) (*struct{}, error) {
		if err := e.QueueRemove(ctx, input.AgencyID, actorFrom(input.Actor)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "queue-move",
		Method:      http.MethodPost,
		Path:        "/queue/{agency_id}/move",
		Summary:     "Move agency one position up or down",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		AgencyID string           `path:"agency_id"`
		Actor    string           `header:"X-Actor-Id"`
		Body     QueueMoveRequest `json:"body"`
	}) (*struct {
		Body domain.QueueEntry `json:"body"`
	}, error) {
		entry, err := e.QueueMove(ctx, input.AgencyID, input.Body.Direction, actorFrom(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.QueueEntry `json:"body"`
		}{Body: entry}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "queue-toggle",
		Method:      http.MethodPost,
		Path:        "/queue/{agency_id}/toggle",
		Summary:     "Enable or disable matching",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgencyID string             `path:"agency_id"`
		Actor    string             `header:"X-Actor-Id"`
		Body     QueueToggleRequest `json:"body"`
	}) (*struct {
		Body domain.QueueEntry `json:"body"`
	}, error) {
		entry, err := e.SetMatchEnabled(ctx, input.AgencyID, input.Body.MatchEnabled, actorFrom(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.QueueEntry `json:"body"`
		}{Body: entry}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "queue-suspend",
		Method:      http.MethodPost,
		Path:        "/queue/{agency_id}/suspend",
		Summary:     "Suspend agency until a future instant",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgencyID string         `path:"agency_id"`
		Actor    string         `header:"X-Actor-Id"`
		Body     SuspendRequest `json:"body"`
	}) (*struct {
		Body domain.QueueEntry `json:"body"`
	}, error) {
		entry, err := e.Suspend(ctx, input.AgencyID, input.Body.Reason, input.Body.EffectiveUntil, actorFrom(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.QueueEntry `json:"body"`
		}{Body: entry}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "queue-clear-suspension",
		Method:      http.MethodDelete,
		Path:        "/queue/{agency_id}/suspend",
		Summary:     "Lift a suspension early",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *agencyPath) (*struct {
		Body domain.QueueEntry `json:"body"`
	}, error) {
		entry, err := e.ClearSuspension(ctx, input.AgencyID, actorFrom(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.QueueEntry `json:"body"`
		}{Body: entry}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "queue-eligibility",
		Method:      http.MethodGet,
		Path:        "/queue/{agency_id}/eligibility",
		Summary:     "Evaluate eligibility now",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgencyID string `path:"agency_id"`
	}) (*struct {
		Body EligibilityResponse `json:"body"`
	}, error) {
		res, err := e.Eligibility(ctx, input.AgencyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EligibilityResponse `json:"body"`
		}{Body: eligibilityResponse(input.AgencyID, res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "queue-compliance-status",
		Method:      http.MethodGet,
		Path:        "/queue/{agency_id}/compliance",
		Summary:     "Agency report cadence status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgencyID string `path:"agency_id"`
	}) (*struct {
		Body CadenceStatusResponse `json:"body"`
	}, error) {
		status, err := e.ComplianceStatus(ctx, input.AgencyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CadenceStatusResponse `json:"body"`
		}{Body: cadenceStatusResponse(status)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "submit-compliance-report",
		Method:        http.MethodPost,
		Path:          "/queue/{agency_id}/compliance-reports",
		Summary:       "File an agency compliance report",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgencyID string                  `path:"agency_id"`
		Actor    string                  `header:"X-Actor-Id"`
		Body     ComplianceReportRequest `json:"body"`
	}) (*struct {
		Body domain.QueueEntry `json:"body"`
	}, error) {
		entry, err := e.SubmitComplianceReport(ctx, input.AgencyID, input.Body.Note, actorFrom(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.QueueEntry `json:"body"`
		}{Body: entry}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-compliance-reports",
		Method:      http.MethodGet,
		Path:        "/queue/{agency_id}/compliance-reports",
		Summary:     "List agency compliance reports",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgencyID string `path:"agency_id"`
	}) (*struct {
		Body []domain.ComplianceReport `json:"body"`
	}, error) {
		if _, err := e.Repo.GetEntry(ctx, input.AgencyID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListComplianceReports(ctx, input.AgencyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ComplianceReport `json:"body"`
		}{Body: items}, nil
	})
}

func registerProjects(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Draft a premium project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Actor string               `header:"X-Actor-Id"`
		Body  CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.PremiumProject `json:"body"`
	}, error) {
		opts := engine.ProjectCreateOptions{
			Title:                 input.Body.Title,
			Value:                 input.Body.Value,
			ConversionProbability: input.Body.ConversionProbability,
			SatisfactionScore:     input.Body.SatisfactionScore,
			ChurnRisk:             input.Body.ChurnRisk,
			ActorID:               actorFrom(input.Actor),
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		p, err := e.CreateProject(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PremiumProject `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status"`
		AgencyID string `query:"agency_id"`
		Limit    int    `query:"limit"`
	}) (*struct {
		Body []domain.PremiumProject `json:"body"`
	}, error) {
		items, err := e.Repo.ListProjects(ctx, repo.ProjectFilters{
			Status:           input.Status,
			AssignedAgencyID: input.AgencyID,
			Limit:            input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.PremiumProject `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.PremiumProject `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PremiumProject `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-history",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/history",
		Summary:     "Project lifecycle history, oldest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []domain.ProjectHistoryEntry `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListHistory(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ProjectHistoryEntry `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "distribute-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/distribute",
		Summary:     "Assign project to the front eligible agency",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Actor     string `header:"X-Actor-Id"`
	}) (*struct {
		Body DistributeResponse `json:"body"`
	}, error) {
		agencyID, err := e.Distribute(ctx, input.ProjectID, actorFrom(input.Actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DistributeResponse `json:"body"`
		}{Body: DistributeResponse{ProjectID: input.ProjectID, AgencyID: agencyID}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/transition",
		Summary:     "Apply a lifecycle transition",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Actor     string            `header:"X-Actor-Id"`
		Body      TransitionRequest `json:"body"`
	}) (*struct {
		Body domain.PremiumProject `json:"body"`
	}, error) {
		p, err := e.Transition(ctx, engine.TransitionOptions{
			ProjectID: input.ProjectID,
			ToStatus:  input.Body.ToStatus,
			ActorID:   actorFrom(input.Actor),
			Note:      input.Body.Note,
			Extra:     input.Body.Extra,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PremiumProject `json:"body"`
		}{Body: p}, nil
	})
}

func registerReports(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-project-report",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/reports",
		Summary:       "Submit a periodic project report",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		Actor     string              `header:"X-Actor-Id"`
		Body      SubmitReportRequest `json:"body"`
	}) (*struct {
		Body domain.PremiumProject `json:"body"`
	}, error) {
		p, err := e.SubmitProjectReport(ctx, engine.ProjectReportOptions{
			ProjectID:            input.ProjectID,
			CompletionPercentage: input.Body.CompletionPercentage,
			BudgetStatus:         input.Body.BudgetStatus,
			TimelineStatus:       input.Body.TimelineStatus,
			ClientSatisfaction:   input.Body.ClientSatisfaction,
			ActorID:              actorFrom(input.Actor),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PremiumProject `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-reports",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/reports",
		Summary:     "List project reports, voided included",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []domain.ProjectReport `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListProjectReports(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ProjectReport `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "void-project-report",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/reports/{report_id}/void",
		Summary:     "Void one report, keeping the row",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		ReportID  int64             `path:"report_id"`
		Actor     string            `header:"X-Actor-Id"`
		Body      VoidReportRequest `json:"body"`
	}) (*struct{}, error) {
		if input.Body.Reason == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "reason is required", nil)
		}
		if err := e.VoidProjectReport(ctx, input.ProjectID, input.ReportID, input.Body.Reason, actorFrom(input.Actor)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-report-status",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/report-status",
		Summary:     "Project report cadence status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body CadenceStatusResponse `json:"body"`
	}, error) {
		status, err := e.ProjectReportStatus(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CadenceStatusResponse `json:"body"`
		}{Body: cadenceStatusResponse(status)}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit trail, newest first",
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit"`
		Cursor     int64  `query:"cursor"`
	}) (*struct {
		Body EventsResponse `json:"body"`
	}, error) {
		events, err := e.Audit.List(ctx, audit.Filters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      input.Limit,
			Cursor:     input.Cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := EventsResponse{Events: events}
		if len(events) > 0 {
			resp.NextCursor = events[len(events)-1].ID
		}
		return &struct {
			Body EventsResponse `json:"body"`
		}{Body: resp}, nil
	})
}
