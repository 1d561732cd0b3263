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

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"taskpilot/internal/domain"
	"taskpilot/internal/engine"
	"taskpilot/internal/events"
	"taskpilot/internal/notify"
	"taskpilot/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"at least one action is required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the taskpilot API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope above.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema-level request validation is a malformed request, not a
			// rejected rule.
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
	hcfg := huma.DefaultConfig("Taskpilot API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerOpenAPI(router, api, basePath)
	registerHealth(group)
	registerTasks(group, cfg.Engine)
	registerRules(group, cfg.Engine)
	registerExecutions(group, cfg.Engine)
	registerNotifications(group, cfg.Engine)
	registerActivity(group, cfg.Engine)
	registerScan(group, cfg.Engine)

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
	var ve engine.RuleValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{
			"errors":   ve.Result.Errors,
			"warnings": ve.Result.Warnings,
		})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrDuplicateExecution) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown") || strings.Contains(lowered, "unparseable") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
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
	case http.StatusUnauthorized:
		return "unauthorized"
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
    <title>Taskpilot API Docs</title>
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

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.TaskCreateOptions{
			UserID:      userID,
			Title:       input.Body.Title,
			AssigneeIDs: input.Body.AssigneeIDs,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.ClientID != nil {
			opts.ClientID = *input.Body.ClientID
		}
		if input.Body.ParentID != nil {
			opts.ParentID = *input.Body.ParentID
		}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		if input.Body.Priority != nil {
			opts.Priority = *input.Body.Priority
		}
		if input.Body.Tag != nil {
			opts.Tag = *input.Body.Tag
		}
		if input.Body.DueDate != nil {
			opts.DueDate = *input.Body.DueDate
		}
		if input.Body.EstimatedMinutes != nil {
			opts.EstimatedMinutes = *input.Body.EstimatedMinutes
		}
		task, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: task}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		task, err := e.Tasks.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: task}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List own tasks",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks, err := e.Repo.ListTasks(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: tasks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/status",
		Summary:     "Change task status and run matching rules",
	}, func(ctx context.Context, input *struct {
		TaskID string               `path:"task_id"`
		Body   SetTaskStatusRequest `json:"body"`
	}) (*struct {
		Body TaskWithRecordsResponse `json:"body"`
	}, error) {
		task, records, err := e.SetTaskStatus(ctx, input.TaskID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskWithRecordsResponse `json:"body"`
		}{Body: TaskWithRecordsResponse{Task: task, Records: records}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "log-time",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/time",
		Summary:     "Log time and run time_tracked rules",
	}, func(ctx context.Context, input *struct {
		TaskID string         `path:"task_id"`
		Body   LogTimeRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		description := ""
		if input.Body.Description != nil {
			description = *input.Body.Description
		}
		_, records, err := e.LogTime(ctx, input.TaskID, userID, input.Body.DurationMinutes, description)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: EventResponse{Records: records}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fire-task-event",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/events",
		Summary:     "Report a task event to the rule engine",
	}, func(ctx context.Context, input *struct {
		TaskID string           `path:"task_id"`
		Body   FireEventRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		task, err := e.Tasks.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		records, err := e.HandleEvent(ctx, engine.TriggerContext{
			Event:    input.Body.Event,
			Task:     task,
			Metadata: input.Body.Metadata,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: EventResponse{Records: records}}, nil
	})
}

func registerRules(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-rule",
		Method:        http.MethodPost,
		Path:          "/rules",
		Summary:       "Create automation rule",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body RuleRequest `json:"body"`
	}) (*struct {
		Body RuleResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rule, res, err := e.CreateRule(ctx, input.Body.toDomain(userID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RuleResponse `json:"body"`
		}{Body: RuleResponse{Rule: rule, Warnings: res.Warnings}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/rules",
		Summary:     "List own rules",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.AutomationRule `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rules, err := e.Repo.ListRules(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AutomationRule `json:"body"`
		}{Body: rules}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-rule",
		Method:      http.MethodGet,
		Path:        "/rules/{rule_id}",
		Summary:     "Get rule",
	}, func(ctx context.Context, input *struct {
		RuleID string `path:"rule_id"`
	}) (*struct {
		Body domain.AutomationRule `json:"body"`
	}, error) {
		rule, err := e.Repo.GetRule(ctx, input.RuleID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AutomationRule `json:"body"`
		}{Body: rule}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-rule",
		Method:      http.MethodPut,
		Path:        "/rules/{rule_id}",
		Summary:     "Update rule",
	}, func(ctx context.Context, input *struct {
		RuleID string      `path:"rule_id"`
		Body   RuleRequest `json:"body"`
	}) (*struct {
		Body RuleResponse `json:"body"`
	}, error) {
		rule := input.Body.toDomain("")
		rule.ID = input.RuleID
		updated, res, err := e.UpdateRule(ctx, rule)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RuleResponse `json:"body"`
		}{Body: RuleResponse{Rule: updated, Warnings: res.Warnings}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-rule",
		Method:        http.MethodDelete,
		Path:          "/rules/{rule_id}",
		Summary:       "Delete rule",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		RuleID string `path:"rule_id"`
	}) (*struct{}, error) {
		if err := e.Repo.DeleteRule(ctx, input.RuleID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-rule",
		Method:      http.MethodPost,
		Path:        "/rules/validate",
		Summary:     "Validate a rule definition without saving it",
	}, func(ctx context.Context, input *struct {
		Body RuleRequest `json:"body"`
	}) (*struct {
		Body engine.ValidationResult `json:"body"`
	}, error) {
		res := engine.Validate(input.Body.toDomain("validation"))
		return &struct {
			Body engine.ValidationResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "test-rule",
		Method:      http.MethodPost,
		Path:        "/rules/{rule_id}/test",
		Summary:     "Dry-run a saved rule against a task",
	}, func(ctx context.Context, input *struct {
		RuleID string          `path:"rule_id"`
		Body   TestRuleRequest `json:"body"`
	}) (*struct {
		Body engine.TestReport `json:"body"`
	}, error) {
		rule, err := e.Repo.GetRule(ctx, input.RuleID)
		if err != nil {
			return nil, handleError(err)
		}
		report, err := e.TestRule(ctx, rule, input.Body.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.TestReport `json:"body"`
		}{Body: report}, nil
	})
}

func registerExecutions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-rule-executions",
		Method:      http.MethodGet,
		Path:        "/rules/{rule_id}/executions",
		Summary:     "List a rule's execution records",
	}, func(ctx context.Context, input *struct {
		RuleID string `path:"rule_id"`
		Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body ExecutionListResponse `json:"body"`
	}, error) {
		executions, err := e.Repo.ListExecutionsByRule(ctx, input.RuleID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ExecutionListResponse `json:"body"`
		}{Body: ExecutionListResponse{Executions: executions}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-task-executions",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/executions",
		Summary:     "List a task's execution records",
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body ExecutionListResponse `json:"body"`
	}, error) {
		executions, err := e.Repo.ListExecutionsByTask(ctx, input.TaskID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ExecutionListResponse `json:"body"`
		}{Body: ExecutionListResponse{Executions: executions}}, nil
	})
}

func registerNotifications(api huma.API, e engine.Engine) {
	svc := notify.Service{DB: e.DB}
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List own notifications",
	}, func(ctx context.Context, input *struct {
		Unread bool `query:"unread"`
		Limit  int  `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		notifications, err := svc.ListByUser(ctx, userID, input.Unread, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: notifications}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "read-notification",
		Method:        http.MethodPost,
		Path:          "/notifications/{notification_id}/read",
		Summary:       "Mark notification read",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		NotificationID string `path:"notification_id"`
	}) (*struct{}, error) {
		if err := svc.MarkRead(ctx, input.NotificationID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerActivity(api huma.API, e engine.Engine) {
	writer := events.Writer{DB: e.DB}
	huma.Register(api, huma.Operation{
		OperationID: "list-task-activity",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/activity",
		Summary:     "List a task's activity log",
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []domain.Activity `json:"body"`
	}, error) {
		activities, err := writer.ListByTask(ctx, input.TaskID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Activity `json:"body"`
		}{Body: activities}, nil
	})
}

func registerScan(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "run-scan",
		Method:      http.MethodPost,
		Path:        "/scan",
		Summary:     "Run the scheduled trigger scan now",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.ScanSummary `json:"body"`
	}, error) {
		summary, err := e.RunScheduledScan(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ScanSummary `json:"body"`
		}{Body: summary}, nil
	})
}
