package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"blockline/internal/domain"
	"blockline/internal/engine"
	"blockline/internal/engine/auth"
	"blockline/internal/outline"
	"blockline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Pool     *engine.Pool
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"structural_violation"`
	Message string         `json:"message" example:"#3 -> #7 existing nodes wiring"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"line\":2}"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

var httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "blockline",
	Name:      "http_requests_total",
	Help:      "HTTP requests by method and status.",
}, []string{"method", "status"})

// service is what every operation handler needs: the engine and the pool
// that bounds how many of them run at once.
type service struct {
	engine engine.Engine
	pool   *engine.Pool
}

// New returns an HTTP handler exposing the Blockline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	basePath = strings.TrimSuffix(basePath, "/")
	if basePath == "" {
		return nil, errors.New("base path must not be the root")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	pool := cfg.Pool
	if pool == nil {
		workers := 1
		if cfg.Engine.Config != nil {
			workers = cfg.Engine.Config.Server.Workers
		}
		pool = engine.NewPool(workers)
	}

	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are malformed input, not graph violations.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine))
	router.Handle("/metrics", promhttp.Handler())

	hcfg := huma.DefaultConfig("Blockline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)
	s := service{engine: cfg.Engine, pool: pool}

	registerDocs(router, basePath)
	registerHealth(group)
	registerText(group, s)
	registerTransition(group, s)
	registerDelete(group, s)
	registerSearch(group, s)
	registerTask(group, s)
	registerPermissions(group, s)
	registerEvents(group, s)
	registerMe(group, s)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Engine, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			httpRequests.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
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

// handleError maps engine errors onto the envelope. Unknown errors stay opaque.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var pe *outline.ParseError
	if errors.As(err, &pe) {
		details := map[string]any{}
		if pe.Line > 0 {
			details["line"] = pe.Line
		}
		if pe.Field != "" {
			details["field"] = pe.Field
		}
		return newAPIError(http.StatusBadRequest, "malformed_input", err.Error(), details)
	}
	var ve *engine.ViolationError
	if errors.As(err, &ve) {
		switch ve.Kind {
		case engine.KindMalformed:
			return newAPIError(http.StatusBadRequest, "malformed_input", ve.Msg, nil)
		case engine.KindForbidden:
			return newAPIError(http.StatusForbidden, "forbidden", ve.Msg, nil)
		default:
			return newAPIError(http.StatusUnprocessableEntity, "structural_violation", ve.Msg, nil)
		}
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newAPIError(http.StatusServiceUnavailable, "unavailable", "request abandoned before it ran", nil)
	}
	slog.Error("unhandled error", "err", err)
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "structural_violation"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// call runs fn for the authenticated actor through the pool.
func call[T any](ctx context.Context, s service, fn func(ctx context.Context, actor string) (T, error)) (T, error) {
	var zero T
	actor, authErr := actorFromContext(ctx)
	if authErr != nil {
		return zero, authErr
	}
	out, err := engine.Do(ctx, s.pool, func(ctx context.Context) (T, error) {
		return fn(ctx, actor)
	})
	if err != nil {
		return zero, handleError(err)
	}
	return out, nil
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
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
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
	public := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
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
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Blockline API Docs</title>
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
		Body HealthResponse `json:"body"`
	}, error) {
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "ok"}}, nil
	})
}

func registerText(api huma.API, s service) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-text",
		Method:      http.MethodPost,
		Path:        "/tasks/text",
		Summary:     "Submit an outline or a slash command",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body TextRequest `json:"body"`
	}) (*struct {
		Body engine.TextReply `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		reply, err := call(ctx, s, func(ctx context.Context, actor string) (engine.TextReply, error) {
			return s.engine.Text(ctx, actor, input.Body.Text)
		})
		if err != nil {
			return nil, err
		}
		return &struct {
			Body engine.TextReply `json:"body"`
		}{Body: reply}, nil
	})
}

func registerTransition(api huma.API, s service) {
	huma.Register(api, huma.Operation{
		OperationID: "transition-tasks",
		Method:      http.MethodPut,
		Path:        "/tasks/transition",
		Summary:     "Archive tasks, or unarchive them with revert",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body TransitionRequest `json:"body"`
	}) (*struct {
		Body engine.TransitionResult `json:"body"`
	}, error) {
		res, err := call(ctx, s, func(ctx context.Context, actor string) (engine.TransitionResult, error) {
			return s.engine.Transition(ctx, actor, input.Body.Tasks, input.Body.Revert)
		})
		if err != nil {
			return nil, err
		}
		return &struct {
			Body engine.TransitionResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerDelete(api huma.API, s service) {
	huma.Register(api, huma.Operation{
		OperationID: "delete-tasks",
		Method:      http.MethodPost,
		Path:        "/tasks/delete",
		Summary:     "Delete tasks in two steps",
		Description: "Without a token the call returns 202 and a confirmation token. Repeat the call with the token to delete.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body DeleteRequest `json:"body"`
	}) (*struct {
		Status int
		Body   engine.DeleteResult `json:"body"`
	}, error) {
		res, err := call(ctx, s, func(ctx context.Context, actor string) (engine.DeleteResult, error) {
			return s.engine.Delete(ctx, actor, input.Body.Tasks, strings.TrimSpace(input.Body.Token))
		})
		if err != nil {
			return nil, err
		}
		status := http.StatusOK
		if res.Token != "" {
			status = http.StatusAccepted
		}
		return &struct {
			Status int
			Body   engine.DeleteResult `json:"body"`
		}{Status: status, Body: res}, nil
	})
}

func registerSearch(api huma.API, s service) {
	huma.Register(api, huma.Operation{
		OperationID: "search-tasks",
		Method:      http.MethodPost,
		Path:        "/tasks/search",
		Summary:     "Search visible tasks",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body outline.Condition `json:"body"`
	}) (*struct {
		Body TasksResponse `json:"body"`
	}, error) {
		tasks, err := call(ctx, s, func(ctx context.Context, actor string) ([]domain.Task, error) {
			return s.engine.Search(ctx, actor, input.Body)
		})
		if err != nil {
			return nil, err
		}
		return &struct {
			Body TasksResponse `json:"body"`
		}{Body: TasksResponse{Tasks: nonNilSlice(tasks)}}, nil
	})
}

func registerTask(api huma.API, s service) {
	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Task with its visible neighbours",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body engine.Focus `json:"body"`
	}, error) {
		id, err := domain.ParseTaskID(input.ID)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid task id", map[string]any{"id": input.ID})
		}
		f, err := call(ctx, s, func(ctx context.Context, actor string) (engine.Focus, error) {
			return s.engine.Focus(ctx, actor, id)
		})
		if err != nil {
			return nil, err
		}
		return &struct {
			Body engine.Focus `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "star-task",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}/star",
		Summary:     "Toggle the starred flag",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body StarResponse `json:"body"`
	}, error) {
		id, err := domain.ParseTaskID(input.ID)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid task id", map[string]any{"id": input.ID})
		}
		starred, err := call(ctx, s, func(ctx context.Context, actor string) (bool, error) {
			return s.engine.Star(ctx, actor, id)
		})
		if err != nil {
			return nil, err
		}
		return &struct {
			Body StarResponse `json:"body"`
		}{Body: StarResponse{ID: id, Starred: starred}}, nil
	})
}

func registerPermissions(api huma.API, s service) {
	huma.Register(api, huma.Operation{
		OperationID: "set-permission",
		Method:      http.MethodPut,
		Path:        "/permissions",
		Summary:     "Grant or revoke access to your tasks",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body GrantRequest `json:"body"`
	}) (*struct {
		Body domain.Permission `json:"body"`
	}, error) {
		perm, err := call(ctx, s, func(ctx context.Context, actor string) (domain.Permission, error) {
			return s.engine.Grant(ctx, actor, strings.TrimSpace(input.Body.User), input.Body.Edit)
		})
		if err != nil {
			return nil, err
		}
		return &struct {
			Body domain.Permission `json:"body"`
		}{Body: perm}, nil
	})
}

func registerEvents(api huma.API, s service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest events caused by the caller",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body EventsResponse `json:"body"`
	}, error) {
		items, err := call(ctx, s, func(ctx context.Context, actor string) ([]domain.Event, error) {
			return s.engine.ListEvents(ctx, actor, repo.EventFilter{
				Type:       input.Type,
				EntityKind: input.EntityKind,
				EntityID:   input.EntityID,
				Limit:      input.Limit,
			})
		})
		if err != nil {
			return nil, err
		}
		resp := EventsResponse{Items: []EventResponse{}}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body EventsResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerMe(api huma.API, s service) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user and grants",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.UserInfo `json:"body"`
	}, error) {
		info, err := call(ctx, s, s.engine.UserInfo)
		if err != nil {
			return nil, err
		}
		info.ViewTo = nonNilSlice(info.ViewTo)
		info.EditTo = nonNilSlice(info.EditTo)
		info.ViewFrom = nonNilSlice(info.ViewFrom)
		info.EditFrom = nonNilSlice(info.EditFrom)
		return &struct {
			Body domain.UserInfo `json:"body"`
		}{Body: info}, nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		user := strings.TrimSpace(input.Body.User)
		if user == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user is required", nil)
		}
		if _, err := e.Repo.GetUserByName(ctx, nil, user); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, newAPIError(http.StatusForbidden, "forbidden", "@"+user+": user not found", nil)
			}
			return nil, handleError(err)
		}
		token, err := signDevToken(authCfg.JWTSecret, user, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if b, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return b
	}
	return nil
}
