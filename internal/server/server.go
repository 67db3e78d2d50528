package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"closeline/internal/agreement"
	"closeline/internal/domain"
	"closeline/internal/engine"
	"closeline/internal/metrics"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
	// Metrics defaults to the engine's collectors.
	Metrics *metrics.Metrics
	Log     logrus.FieldLogger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"conflict"`
	Message string         `json:"message" example:"complete_milestone rejected: milestone out of sequence"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"kind\":\"sequence\"}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the closeline API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Metrics == nil {
		cfg.Metrics = cfg.Engine.Metrics
	}
	if cfg.Log == nil {
		cfg.Log = cfg.Engine.Log
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Log
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("closeline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerApps(group, cfg.Engine)
	registerCalls(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerStream(router, basePath, cfg.Engine, cfg.Metrics, cfg.Log)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics.Handler())
	}
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

var rejections = []struct {
	kind   error
	name   string
	status int
	code   string
}{
	{agreement.ErrArgumentCount, "argument_count", http.StatusBadRequest, "bad_request"},
	{agreement.ErrInvalidArgument, "invalid_argument", http.StatusBadRequest, "bad_request"},
	{agreement.ErrUnknownAction, "unknown_action", http.StatusBadRequest, "bad_request"},
	{agreement.ErrUnauthorized, "unauthorized", http.StatusForbidden, "forbidden"},
	{agreement.ErrState, "state", http.StatusConflict, "conflict"},
	{agreement.ErrSequence, "sequence", http.StatusConflict, "conflict"},
	{agreement.ErrIdentityMismatch, "identity_mismatch", http.StatusUnprocessableEntity, "identity_mismatch"},
	{agreement.ErrPrecondition, "precondition", http.StatusUnprocessableEntity, "precondition_failed"},
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var rej *agreement.RejectError
	if errors.As(err, &rej) {
		for _, r := range rejections {
			if errors.Is(rej.Kind, r.kind) {
				return newAPIError(r.status, r.code, err.Error(), map[string]any{"action": rej.Action.String(), "kind": r.name})
			}
		}
	}
	var lim *engine.StorageLimitError
	if errors.As(err, &lim) {
		return newAPIError(http.StatusUnprocessableEntity, "storage_exhausted", err.Error(), map[string]any{
			"limit": lim.Limit,
			"got":   lim.Got,
			"max":   lim.Max,
		})
	}
	if errors.Is(err, domain.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
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
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	if oas.Components != nil && oas.Components.Schemas != nil {
		oas.Components.Schemas.Map()["ApiError"] = &huma.Schema{
			Type:     huma.TypeObject,
			Required: []string{"error"},
			Properties: map[string]*huma.Schema{
				"error": {
					Type:     huma.TypeObject,
					Required: []string{"code", "message"},
					Properties: map[string]*huma.Schema{
						"code":    {Type: huma.TypeString},
						"message": {Type: huma.TypeString},
						"details": {Type: huma.TypeObject},
					},
				},
			},
		}
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
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

func operations(item *huma.PathItem) []*huma.Operation {
	var ops []*huma.Operation
	for _, op := range []*huma.Operation{
		item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
	} {
		if op != nil {
			ops = append(ops, op)
		}
	}
	return ops
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
	open := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if open[route] {
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
    <title>closeline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt;.
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

type appPath struct {
	AppID uint64 `path:"app_id"`
}

type appOutput struct {
	Body AppResponse `json:"body"`
}

type receiptOutput struct {
	Body ReceiptResponse `json:"body"`
}

func registerApps(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-apps",
		Method:      http.MethodGet,
		Path:        "/apps",
		Summary:     "List agreement instances",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []AppResponse `json:"body"`
	}, error) {
		apps, err := e.Apps(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]AppResponse, 0, len(apps))
		for _, a := range apps {
			st, err := e.Agreement(ctx, a.ID)
			if err != nil {
				return nil, handleError(err)
			}
			out = append(out, appResponse(a, st))
		}
		return &struct {
			Body []AppResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-app",
		Method:        http.MethodPost,
		Path:          "/apps",
		Summary:       "Create an agreement instance administered by the caller",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ReceiptResponse `json:"body"`
	}, error) {
		sender, serr := senderFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		rcpt, err := e.CreateApp(ctx, sender)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReceiptResponse `json:"body"`
		}{Body: receiptResponse(rcpt)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-app",
		Method:      http.MethodGet,
		Path:        "/apps/{app_id}",
		Summary:     "Get an agreement",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *appPath) (*appOutput, error) {
		app, err := e.App(ctx, input.AppID)
		if err != nil {
			return nil, handleError(err)
		}
		st, err := e.Agreement(ctx, input.AppID)
		if err != nil {
			return nil, handleError(err)
		}
		return &appOutput{Body: appResponse(app, st)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-globals",
		Method:      http.MethodGet,
		Path:        "/apps/{app_id}/globals",
		Summary:     "Raw global state of an app",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *appPath) (*struct {
		Body []GlobalResponse `json:"body"`
	}, error) {
		g, err := e.Globals(ctx, input.AppID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []GlobalResponse `json:"body"`
		}{Body: globalResponses(g)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-milestones",
		Method:      http.MethodGet,
		Path:        "/apps/{app_id}/milestones",
		Summary:     "List milestones in order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *appPath) (*struct {
		Body []MilestoneResponse `json:"body"`
	}, error) {
		st, err := e.Agreement(ctx, input.AppID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []MilestoneResponse `json:"body"`
		}{Body: milestoneResponses(st.Milestones)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-txns",
		Method:      http.MethodGet,
		Path:        "/apps/{app_id}/txns",
		Summary:     "List applied calls",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *appPath) (*struct {
		Body []domain.Txn `json:"body"`
	}, error) {
		txns, err := e.Txns(ctx, input.AppID)
		if err != nil {
			return nil, handleError(err)
		}
		if txns == nil {
			txns = []domain.Txn{}
		}
		return &struct {
			Body []domain.Txn `json:"body"`
		}{Body: txns}, nil
	})
}

func applyCall(ctx context.Context, e *engine.Engine, appID uint64, args [][]byte) (*receiptOutput, error) {
	sender, serr := senderFromContext(ctx)
	if serr != nil {
		return nil, serr
	}
	rcpt, err := e.Call(ctx, appID, sender, args)
	if err != nil {
		return nil, handleError(err)
	}
	return &receiptOutput{Body: receiptResponse(rcpt)}, nil
}

var callErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
}

func parseAddressField(field, s string) (agreement.Address, error) {
	a, err := agreement.ParseAddress(strings.TrimSpace(s))
	if err != nil {
		return a, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid %s address", field), map[string]any{field: s})
	}
	return a, nil
}

func registerCalls(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "call-app",
		Method:      http.MethodPost,
		Path:        "/apps/{app_id}/calls",
		Summary:     "Apply a raw application call",
		Errors:      callErrors,
	}, func(ctx context.Context, input *struct {
		AppID uint64      `path:"app_id"`
		Body  CallRequest `json:"body"`
	}) (*receiptOutput, error) {
		return applyCall(ctx, e, input.AppID, input.Body.Args)
	})

	huma.Register(api, huma.Operation{
		OperationID: "initialize",
		Method:      http.MethodPost,
		Path:        "/apps/{app_id}/initialize",
		Summary:     "Set the parties, amount and document hash",
		Errors:      callErrors,
	}, func(ctx context.Context, input *struct {
		AppID uint64            `path:"app_id"`
		Body  InitializeRequest `json:"body"`
	}) (*receiptOutput, error) {
		buyer, err := parseAddressField("buyer", input.Body.Buyer)
		if err != nil {
			return nil, err
		}
		seller, err := parseAddressField("seller", input.Body.Seller)
		if err != nil {
			return nil, err
		}
		hash, err := hex.DecodeString(strings.TrimPrefix(input.Body.DocumentHash, "0x"))
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "document_hash must be hex", nil)
		}
		return applyCall(ctx, e, input.AppID, agreement.InitializeArgs(buyer, seller, input.Body.Amount, hash))
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-milestone",
		Method:      http.MethodPost,
		Path:        "/apps/{app_id}/milestones",
		Summary:     "Append a milestone",
		Errors:      callErrors,
	}, func(ctx context.Context, input *struct {
		AppID uint64           `path:"app_id"`
		Body  MilestoneRequest `json:"body"`
	}) (*receiptOutput, error) {
		return applyCall(ctx, e, input.AppID, agreement.AddMilestoneArgs(input.Body.Title, input.Body.Description))
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-milestone",
		Method:      http.MethodPost,
		Path:        "/apps/{app_id}/milestones/{index}/complete",
		Summary:     "Complete the next milestone",
		Errors:      callErrors,
	}, func(ctx context.Context, input *struct {
		AppID uint64 `path:"app_id"`
		Index uint64 `path:"index"`
	}) (*receiptOutput, error) {
		return applyCall(ctx, e, input.AppID, agreement.CompleteMilestoneArgs(input.Index))
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-signature",
		Method:      http.MethodPost,
		Path:        "/apps/{app_id}/signatures",
		Summary:     "Record a party signature",
		Errors:      callErrors,
	}, func(ctx context.Context, input *struct {
		AppID uint64           `path:"app_id"`
		Body  SignatureRequest `json:"body"`
	}) (*receiptOutput, error) {
		party, err := parseAddressField("party", input.Body.Party)
		if err != nil {
			return nil, err
		}
		return applyCall(ctx, e, input.AppID, agreement.VerifySignatureArgs(party))
	})

	huma.Register(api, huma.Operation{
		OperationID: "execute-agreement",
		Method:      http.MethodPost,
		Path:        "/apps/{app_id}/execute",
		Summary:     "Execute a fully signed agreement",
		Errors:      callErrors,
	}, func(ctx context.Context, input *appPath) (*receiptOutput, error) {
		return applyCall(ctx, e, input.AppID, agreement.ExecuteAgreementArgs())
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-agreement",
		Method:      http.MethodPost,
		Path:        "/apps/{app_id}/cancel",
		Summary:     "Cancel a non-terminal agreement",
		Errors:      callErrors,
	}, func(ctx context.Context, input *appPath) (*receiptOutput, error) {
		return applyCall(ctx, e, input.AppID, agreement.CancelAgreementArgs())
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/apps/{app_id}/events",
		Summary:     "List events in commit order",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AppID  uint64 `path:"app_id"`
		Type   string `query:"type"`
		TxnID  string `query:"txn_id"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor" doc:"Return events after this event id"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, err := e.App(ctx, input.AppID); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var after int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			after = parsed
		}
		items, err := e.Events(ctx, domain.EventQuery{
			AppID:   input.AppID,
			Type:    input.Type,
			TxnID:   input.TxnID,
			AfterID: after,
			Limit:   limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		addr, err := parseAddressField("address", input.Body.Address)
		if err != nil {
			return nil, err
		}
		token, exp, err := SignToken(authCfg.JWTSecret, addr, authCfg.TokenTTL, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token, Address: addr.String(), ExpiresAt: exp.UTC().Format(time.RFC3339)}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 500 {
		return 500
	}
	return in
}
