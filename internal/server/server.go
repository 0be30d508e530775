package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/engine/auth"
	"taskboard/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"insufficient_balance"`
	Message string         `json:"message" example:"insufficient balance: balance 380.00, requested 500.00"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the taskboard API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestLogger(logger))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo, logger))
	hcfg := huma.DefaultConfig("Taskboard API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerLogin(group, cfg.Engine, cfg.Auth)
	registerMe(group)
	registerUsers(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerKanban(group, cfg.Engine)
	registerPayments(group, cfg.Engine)
	registerInvitations(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)))
		})
	}
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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"action": fe.Action})
	}
	msg := err.Error()
	switch {
	case errors.Is(err, auth.ErrPermissionDenied):
		return newAPIError(http.StatusForbidden, "forbidden", msg, nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, engine.ErrInvalidTransition):
		return newAPIError(http.StatusConflict, "invalid_transition", msg, nil)
	case errors.Is(err, engine.ErrInsufficientBalance):
		return newAPIError(http.StatusUnprocessableEntity, "insufficient_balance", msg, nil)
	case errors.Is(err, engine.ErrExpiredInvitation):
		return newAPIError(http.StatusGone, "invitation_expired", msg, nil)
	case errors.Is(err, engine.ErrCycleDetected):
		return newAPIError(http.StatusUnprocessableEntity, "cycle_detected", msg, nil)
	case errors.Is(err, engine.ErrInvalidInput):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case errors.Is(err, repo.ErrAlreadyExists):
		return newAPIError(http.StatusConflict, "already_exists", msg, nil)
	case errors.Is(err, engine.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case errors.Is(err, engine.ErrInvalidCredentials):
		return newAPIError(http.StatusUnauthorized, "invalid_credentials", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
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
	var doc []byte
	docPath := path.Join(basePath, "openapi.json")
	r.Get(docPath, func(w http.ResponseWriter, r *http.Request) {
		if doc == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			doc, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	public := publicPaths(basePath)
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	docURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Taskboard API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; from POST auth/login.
    </p>
  </body>
</html>`, docURL)
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

func registerLogin(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange credentials for a bearer token",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		u, err := e.VerifyCredentials(ctx, input.Body.Username, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		token, expires, err := signToken(authCfg, u, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body LoginResponse `json:"body"`
		}{Body: LoginResponse{
			Token:     token,
			ExpiresAt: expires.UTC().Format(time.RFC3339),
			User:      userResponse(u),
		}}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		u, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create a direct report",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		role, err := domain.ParseRole(input.Body.Role)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"role": input.Body.Role})
		}
		u, err := e.CreateUser(ctx, actor, engine.UserCreateOptions{
			Username:    input.Body.Username,
			DisplayName: input.Body.DisplayName,
			Email:       input.Body.Email,
			Password:    input.Body.Password,
			Role:        role,
			Tags:        input.Body.Tags,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users related to the caller",
		Description: "reports: direct reports. team: the caller's team. leadership: the supervisors above the caller's team.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Scope string `query:"scope" enum:"reports,team,leadership" default:"reports"`
	}) (*struct {
		Body []UserResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var (
			users []domain.User
			err   error
		)
		switch input.Scope {
		case "", "reports":
			users, err = e.Reports(ctx, actor)
		case "team":
			users, err = e.TeamUsers(ctx, actor)
		case "leadership":
			users, err = e.TeamLeadership(ctx, actor)
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid scope", map[string]any{"scope": input.Scope})
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []UserResponse `json:"body"`
		}{Body: mapUsers(users)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/users/{id}",
		Summary:     "Get a user",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.GetUser(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-balance",
		Method:      http.MethodGet,
		Path:        "/users/{id}/balance",
		Summary:     "Current balance",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body BalanceResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		balance, err := e.GetBalance(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BalanceResponse `json:"body"`
		}{Body: BalanceResponse{UserID: input.ID, Balance: balance.String()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-ledger",
		Method:      http.MethodGet,
		Path:        "/users/{id}/ledger",
		Summary:     "Balance history, oldest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []LedgerEntryResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entries, err := e.ListLedger(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]LedgerEntryResponse, 0, len(entries))
		for _, l := range entries {
			out = append(out, ledgerEntryResponse(l))
		}
		return &struct {
			Body []LedgerEntryResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "change-password",
		Method:        http.MethodPut,
		Path:          "/users/{id}/password",
		Summary:       "Change or reset a password",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body ChangePasswordRequest `json:"body"`
	}) (*struct{}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.ChangePassword(ctx, actor, input.ID, input.Body.Current, input.Body.New); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-manager",
		Method:      http.MethodPut,
		Path:        "/users/{id}/manager",
		Summary:     "Move a user under another manager",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body SetManagerRequest `json:"body"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.SetManager(ctx, actor, input.ID, input.Body.ManagerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-role",
		Method:      http.MethodPut,
		Path:        "/users/{id}/role",
		Summary:     "Change a user's role",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body ChangeRoleRequest `json:"body"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		role, err := domain.ParseRole(input.Body.Role)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"role": input.Body.Role})
		}
		u, err := e.ChangeRole(ctx, actor, input.ID, role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-user",
		Method:        http.MethodDelete,
		Path:          "/users/{id}",
		Summary:       "Delete a direct report",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteUser(ctx, actor, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create or propose a task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		amount, apiErr := parseAmount("payment_amount", input.Body.PaymentAmount)
		if apiErr != nil {
			return nil, apiErr
		}
		t, err := e.CreateTask(ctx, actor, engine.TaskCreateOptions{
			Title:         input.Body.Title,
			Description:   input.Body.Description,
			AssignedTo:    input.Body.AssignedTo,
			ControlledBy:  input.Body.ControlledBy,
			DueDate:       input.Body.DueDate,
			PaymentAmount: amount,
			Tags:          input.Body.Tags,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t, clock(e))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List visible tasks ordered by due date",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status" enum:"proposed,created,in_progress,submitted,completed"`
		AssignedTo string `query:"assigned_to"`
		CreatedBy  string `query:"created_by"`
		Tag        string `query:"tag"`
		DueFrom    string `query:"due_from" format:"date"`
		DueTo      string `query:"due_to" format:"date"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.TaskListOptions{
			AssignedTo: input.AssignedTo,
			CreatedBy:  input.CreatedBy,
			Tag:        input.Tag,
			DueFrom:    input.DueFrom,
			DueTo:      input.DueTo,
		}
		if input.Status != "" {
			status, err := domain.ParseStatus(input.Status)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"status": input.Status})
			}
			opts.Status = status
		}
		tasks, err := e.ListTasks(ctx, actor, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(tasks, clock(e))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTask(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t, clock(e))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Edit a task that is not completed",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.TaskUpdateOptions{
			Title:           input.Body.Title,
			Description:     input.Body.Description,
			AssignedTo:      input.Body.AssignedTo,
			ControlledBy:    input.Body.ControlledBy,
			ClearController: input.Body.ClearController,
			DueDate:         input.Body.DueDate,
			Tags:            input.Body.Tags,
		}
		if input.Body.PaymentAmount != nil {
			amount, apiErr := parseAmount("payment_amount", *input.Body.PaymentAmount)
			if apiErr != nil {
				return nil, apiErr
			}
			opts.PaymentAmount = &amount
		}
		t, err := e.UpdateTask(ctx, actor, input.ID, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t, clock(e))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}",
		Summary:       "Delete a task that is not completed",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, actor, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	transitions := []struct {
		action  string
		summary string
		apply   func(context.Context, domain.User, string) (domain.Task, error)
	}{
		{"promote", "Accept a proposed task", e.PromoteTask},
		{"start", "Start work on a task", e.StartTask},
		{"submit", "Submit a task for review", e.SubmitTask},
		{"complete", "Approve a submitted task and credit its payment", e.CompleteTask},
	}
	for _, tr := range transitions {
		apply := tr.apply
		huma.Register(api, huma.Operation{
			OperationID: tr.action + "-task",
			Method:      http.MethodPost,
			Path:        "/tasks/{id}/" + tr.action,
			Summary:     tr.summary,
			Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
		}, func(ctx context.Context, input *struct {
			ID string `path:"id"`
		}) (*struct {
			Body TaskResponse `json:"body"`
		}, error) {
			actor, authErr := currentUser(ctx)
			if authErr != nil {
				return nil, authErr
			}
			t, err := apply(ctx, actor, input.ID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body TaskResponse `json:"body"`
			}{Body: taskResponse(t, clock(e))}, nil
		})
	}
}

func registerKanban(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "kanban",
		Method:      http.MethodGet,
		Path:        "/kanban",
		Summary:     "Tasks grouped by status",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Assignee string `query:"assignee"`
	}) (*struct {
		Body KanbanResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		board, err := e.Kanban(ctx, actor, input.Assignee)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body KanbanResponse `json:"body"`
		}{Body: kanbanResponse(board, clock(e))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "team-kanban",
		Method:      http.MethodGet,
		Path:        "/kanban/team",
		Summary:     "Team tasks grouped by status and assignee",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TeamKanbanResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		board, err := e.TeamKanban(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TeamKanbanResponse `json:"body"`
		}{Body: teamKanbanResponse(board, clock(e))}, nil
	})
}

func registerPayments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-payment",
		Method:        http.MethodPost,
		Path:          "/payments",
		Summary:       "Pay a technician out of its balance",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body RecordPaymentRequest `json:"body"`
	}) (*struct {
		Body PaymentResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		amount, apiErr := parseAmount("amount", input.Body.Amount)
		if apiErr != nil {
			return nil, apiErr
		}
		p, err := e.RecordPayment(ctx, actor, engine.PaymentOptions{
			EmployeeID:  input.Body.EmployeeID,
			Amount:      amount,
			Description: input.Body.Description,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PaymentResponse `json:"body"`
		}{Body: paymentResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-payments",
		Method:      http.MethodGet,
		Path:        "/payments",
		Summary:     "List payments, newest first",
	}, func(ctx context.Context, input *struct {
		EmployeeID string `query:"employee_id"`
	}) (*struct {
		Body []PaymentResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		payments, err := e.ListPayments(ctx, actor, input.EmployeeID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]PaymentResponse, 0, len(payments))
		for _, p := range payments {
			out = append(out, paymentResponse(p))
		}
		return &struct {
			Body []PaymentResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerInvitations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-invitation",
		Method:        http.MethodPost,
		Path:          "/invitations",
		Summary:       "Invite a new direct report",
		Description:   "The token is returned once and never stored in plaintext.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateInvitationRequest `json:"body"`
	}) (*struct {
		Body InvitationResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		role, err := domain.ParseRole(input.Body.Role)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"role": input.Body.Role})
		}
		inv, token, err := e.CreateInvitation(ctx, actor, engine.InvitationOptions{
			Email: input.Body.Email,
			Role:  role,
			Tags:  input.Body.Tags,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := invitationResponse(inv)
		resp.Token = token
		return &struct {
			Body InvitationResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-invitations",
		Method:      http.MethodGet,
		Path:        "/invitations",
		Summary:     "List invitations the caller created",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []InvitationResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		invs, err := e.ListInvitations(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]InvitationResponse, 0, len(invs))
		for _, inv := range invs {
			out = append(out, invitationResponse(inv))
		}
		return &struct {
			Body []InvitationResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "accept-invitation",
		Method:        http.MethodPost,
		Path:          "/invitations/accept",
		Summary:       "Register with an invitation token",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusGone},
	}, func(ctx context.Context, input *struct {
		Body AcceptInvitationRequest `json:"body"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Token) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "token is required", nil)
		}
		u, err := e.AcceptInvitation(ctx, engine.AcceptOptions{
			Token:       input.Body.Token,
			Username:    input.Body.Username,
			DisplayName: input.Body.DisplayName,
			Email:       input.Body.Email,
			Password:    input.Body.Password,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events, oldest first",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		EntityKind string `query:"entity_kind" enum:"user,task,payment,invitation"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.ListEvents(ctx, actor, engine.EventListOptions{
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			AfterID:    cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if b, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return b
	}
	return nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseAmount(field, raw string) (domain.Money, huma.StatusError) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	m, err := domain.ParseMoney(raw)
	if err != nil {
		return 0, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{field: raw})
	}
	return m, nil
}

func clock(e engine.Engine) time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
