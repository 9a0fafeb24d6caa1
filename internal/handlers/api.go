package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ragbackend/internal/documents"
	"ragbackend/internal/identity"
	"ragbackend/internal/logger"
	"ragbackend/internal/rag"
	"ragbackend/internal/storage"
)

type Answerer interface {
	Answer(ctx context.Context, req rag.QueryRequest) (*rag.QueryResult, error)
}

type DocumentService interface {
	Upload(ctx context.Context, owner string, obj storage.Object) (*documents.UploadResult, error)
	List(ctx context.Context, owner string) ([]storage.UploadRecord, error)
	MaxBytes() int64
}

type Authenticator interface {
	Login(ctx context.Context, username, password string) (*identity.Tokens, error)
	Register(ctx context.Context, username, password, email string) error
	Confirm(ctx context.Context, username, code string) error
}

// API routes API Gateway HTTP API events. The same router backs the local
// echo server.
type API struct {
	rag  Answerer
	docs DocumentService
	auth Authenticator
	log  *zap.Logger

	validate *validator.Validate
}

func NewAPI(rag Answerer, docs DocumentService, auth Authenticator, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{
		rag:      rag,
		docs:     docs,
		auth:     auth,
		log:      log,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	reqID := requestID(req)
	ctx = logger.WithRequestID(ctx, a.log, reqID)
	method := strings.ToUpper(req.RequestContext.HTTP.Method)
	path := routePath(req)

	logger.From(ctx).Debug("request",
		zap.String("method", method),
		zap.String("path", path),
	)

	resp, err := a.route(ctx, method, path, req)
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers["x-request-id"] = reqID
	return resp, err
}

func (a *API) route(ctx context.Context, method, path string, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if method == http.MethodOptions {
		return preflight(), nil
	}

	switch path {
	case "/health":
		if method == http.MethodGet {
			return jsonResp(http.StatusOK, map[string]string{"status": "healthy"})
		}
	case "/api/documents/upload":
		if method == http.MethodPost {
			return a.uploadDocument(ctx, req)
		}
	case "/api/documents":
		if method == http.MethodGet {
			return a.listDocuments(ctx, req)
		}
	case "/api/query":
		if method == http.MethodPost {
			return a.query(ctx, req)
		}
	case "/api/auth/login":
		if method == http.MethodPost {
			return a.login(ctx, req)
		}
	case "/api/auth/register":
		if method == http.MethodPost {
			return a.register(ctx, req)
		}
	case "/api/auth/confirm":
		if method == http.MethodPost {
			return a.confirm(ctx, req)
		}
	default:
		return errResp(http.StatusNotFound, "not found")
	}
	return errResp(http.StatusMethodNotAllowed, "method not allowed")
}

func routePath(req events.APIGatewayV2HTTPRequest) string {
	p := req.RawPath
	if p == "" {
		p = req.RequestContext.HTTP.Path
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

func requestID(req events.APIGatewayV2HTTPRequest) string {
	if id := strings.TrimSpace(header(req, "x-request-id")); id != "" {
		return id
	}
	if id := strings.TrimSpace(req.RequestContext.RequestID); id != "" {
		return id
	}
	return uuid.NewString()
}

// header looks a header up case-insensitively. HTTP APIs lowercase names but
// the local adapter may not.
func header(req events.APIGatewayV2HTTPRequest, name string) string {
	if v, ok := req.Headers[name]; ok {
		return v
	}
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func body(req events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if req.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(req.Body)
	}
	return []byte(req.Body), nil
}

// userSub returns the Cognito subject when the route sits behind a JWT
// authorizer, "" otherwise.
func userSub(req events.APIGatewayV2HTTPRequest) string {
	auth := req.RequestContext.Authorizer
	if auth == nil || auth.JWT == nil || auth.JWT.Claims == nil {
		return ""
	}
	return strings.TrimSpace(auth.JWT.Claims["sub"])
}

func corsHeaders() map[string]string {
	return map[string]string{
		"access-control-allow-origin":  "*",
		"access-control-allow-methods": "GET,POST,OPTIONS",
		"access-control-allow-headers": "Content-Type,Authorization,X-Request-Id",
	}
}

func preflight() events.APIGatewayV2HTTPResponse {
	h := corsHeaders()
	h["access-control-max-age"] = "600"
	return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusNoContent, Headers: h}
}

func jsonResp(status int, v any) (events.APIGatewayV2HTTPResponse, error) {
	b, _ := json.Marshal(v)
	h := corsHeaders()
	h["content-type"] = "application/json"
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    h,
		Body:       string(b),
	}, nil
}

func errResp(status int, msg string) (events.APIGatewayV2HTTPResponse, error) {
	return jsonResp(status, map[string]any{
		"error": msg,
	})
}

func errDetailResp(status int, msg, details string) (events.APIGatewayV2HTTPResponse, error) {
	resp := map[string]any{"error": msg}
	if details != "" {
		resp["details"] = details
	}
	return jsonResp(status, resp)
}
