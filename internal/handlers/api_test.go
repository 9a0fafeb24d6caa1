package handlers_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ragbackend/internal/apperr"
	"ragbackend/internal/documents"
	"ragbackend/internal/handlers"
	"ragbackend/internal/identity"
	"ragbackend/internal/rag"
	"ragbackend/internal/storage"
)

type mockAnswerer struct{ mock.Mock }

func (m *mockAnswerer) Answer(ctx context.Context, req rag.QueryRequest) (*rag.QueryResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rag.QueryResult), args.Error(1)
}

type mockDocs struct {
	mock.Mock
	max int64
}

func (m *mockDocs) Upload(ctx context.Context, owner string, obj storage.Object) (*documents.UploadResult, error) {
	args := m.Called(ctx, owner, obj)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*documents.UploadResult), args.Error(1)
}

func (m *mockDocs) List(ctx context.Context, owner string) ([]storage.UploadRecord, error) {
	args := m.Called(ctx, owner)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.UploadRecord), args.Error(1)
}

func (m *mockDocs) MaxBytes() int64 { return m.max }

type mockAuth struct{ mock.Mock }

func (m *mockAuth) Login(ctx context.Context, username, password string) (*identity.Tokens, error) {
	args := m.Called(ctx, username, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Tokens), args.Error(1)
}

func (m *mockAuth) Register(ctx context.Context, username, password, email string) error {
	return m.Called(ctx, username, password, email).Error(0)
}

func (m *mockAuth) Confirm(ctx context.Context, username, code string) error {
	return m.Called(ctx, username, code).Error(0)
}

type fixture struct {
	rag  *mockAnswerer
	docs *mockDocs
	auth *mockAuth
	api  *handlers.API
}

func newFixture() *fixture {
	f := &fixture{rag: new(mockAnswerer), docs: &mockDocs{max: 16}, auth: new(mockAuth)}
	f.api = handlers.NewAPI(f.rag, f.docs, f.auth, nil)
	return f
}

func request(method, path, body string) events.APIGatewayV2HTTPRequest {
	req := events.APIGatewayV2HTTPRequest{
		RawPath: path,
		Headers: map[string]string{"content-type": "application/json"},
		Body:    body,
	}
	req.RequestContext.HTTP.Method = method
	req.RequestContext.RequestID = "req-1"
	return req
}

func decode(t *testing.T, resp events.APIGatewayV2HTTPResponse) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &out))
	return out
}

func multipartRequest(t *testing.T, field, filename string, data []byte) events.APIGatewayV2HTTPRequest {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := request(http.MethodPost, "/api/documents/upload", base64.StdEncoding.EncodeToString(buf.Bytes()))
	req.IsBase64Encoded = true
	req.Headers["content-type"] = w.FormDataContentType()
	return req
}

func TestHealth(t *testing.T) {
	f := newFixture()
	resp, err := f.api.Handle(context.Background(), request(http.MethodGet, "/health", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", decode(t, resp)["status"])
	assert.Equal(t, "*", resp.Headers["access-control-allow-origin"])
	assert.Equal(t, "req-1", resp.Headers["x-request-id"])
}

func TestRouting(t *testing.T) {
	f := newFixture()

	resp, _ := f.api.Handle(context.Background(), request(http.MethodGet, "/nope", ""))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.api.Handle(context.Background(), request(http.MethodGet, "/api/query", ""))
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, _ = f.api.Handle(context.Background(), request(http.MethodOptions, "/api/query", ""))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, resp.Headers["access-control-allow-methods"], "POST")

	resp, _ = f.api.Handle(context.Background(), request(http.MethodGet, "/health/", ""))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestQuery_Success(t *testing.T) {
	f := newFixture()
	f.rag.On("Answer", mock.Anything, rag.QueryRequest{Query: "What is the refund policy?"}).Return(&rag.QueryResult{
		Answer:  "30 days.",
		Context: "[Source 1]: Refunds within 30 days.",
		Sources: []rag.Source{{Index: 1, Location: "s3://docs/a.pdf", Score: 0.9}},
	}, nil)

	resp, err := f.api.Handle(context.Background(),
		request(http.MethodPost, "/api/query", `{"query":"What is the refund policy?"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode(t, resp)
	assert.Equal(t, "30 days.", out["message"])
	assert.Equal(t, "[Source 1]: Refunds within 30 days.", out["context"])
	assert.Len(t, out["sources"], 1)
}

func TestQuery_MissingQuery(t *testing.T) {
	f := newFixture()
	for _, b := range []string{`{}`, `{"query":"   "}`, ``} {
		resp, _ := f.api.Handle(context.Background(), request(http.MethodPost, "/api/query", b))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, b)
		assert.Equal(t, "Query is required", decode(t, resp)["error"])
	}
	f.rag.AssertNotCalled(t, "Answer", mock.Anything, mock.Anything)
}

func TestQuery_Failures(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		wantError   string
		wantDetails string
	}{
		{
			name:      "not configured",
			err:       apperr.New(apperr.NotConfigured, apperr.StageConfig, "knowledge base ID not configured", nil),
			wantError: "Knowledge Base ID not configured. Check BEDROCK_KNOWLEDGE_BASE_ID in .env file.",
		},
		{
			name:        "retrieval denied",
			err:         apperr.New(apperr.Unauthorized, apperr.StageRetrieval, "not authorized to access Knowledge Base. Check IAM permissions", errors.New("AccessDeniedException: no")),
			wantError:   "Knowledge Base Error: not authorized to access Knowledge Base. Check IAM permissions",
			wantDetails: "AccessDeniedException: no",
		},
		{
			name:        "generation failed",
			err:         apperr.New(apperr.GenerationFailed, apperr.StageGeneration, "generation failed", errors.New("model unavailable")),
			wantError:   "Failed to process query",
			wantDetails: "model unavailable",
		},
		{
			name:        "generation timeout",
			err:         apperr.New(apperr.Timeout, apperr.StageGeneration, "generation timed out", context.DeadlineExceeded),
			wantError:   "Failed to process query",
			wantDetails: "context deadline exceeded",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.rag.On("Answer", mock.Anything, mock.Anything).Return(nil, tc.err)

			resp, err := f.api.Handle(context.Background(), request(http.MethodPost, "/api/query", `{"query":"q"}`))
			require.NoError(t, err)
			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

			out := decode(t, resp)
			assert.Equal(t, tc.wantError, out["error"])
			assert.NotContains(t, out, "message")
			if tc.wantDetails != "" {
				assert.Equal(t, tc.wantDetails, out["details"])
			}
		})
	}
}

func TestUpload_Success(t *testing.T) {
	f := newFixture()
	f.docs.On("Upload", mock.Anything, "", storage.Object{
		Body:        []byte("hello"),
		Filename:    "guide.txt",
		ContentType: "application/octet-stream",
	}).Return(&documents.UploadResult{
		Record:         storage.UploadRecord{Key: "documents/1-guide.txt"},
		IngestionJobID: "job-1",
	}, nil)

	resp, err := f.api.Handle(context.Background(), multipartRequest(t, "file", "guide.txt", []byte("hello")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode(t, resp)
	assert.Equal(t, "Document uploaded successfully", out["message"])
	assert.Equal(t, "documents/1-guide.txt", out["key"])
	assert.Equal(t, "job-1", out["ingestionJobId"])
}

func TestUpload_OwnerFromJWT(t *testing.T) {
	f := newFixture()
	f.docs.On("Upload", mock.Anything, "user-1", mock.Anything).
		Return(&documents.UploadResult{Record: storage.UploadRecord{Key: "k"}}, nil)

	req := withSub(multipartRequest(t, "file", "a.txt", []byte("x")), "user-1")
	resp, _ := f.api.Handle(context.Background(), req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	f.docs.AssertExpectations(t)
}

func TestUpload_NoFile(t *testing.T) {
	f := newFixture()

	resp, _ := f.api.Handle(context.Background(), multipartRequest(t, "other", "a.txt", []byte("x")))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "No file uploaded", decode(t, resp)["error"])

	resp, _ = f.api.Handle(context.Background(), request(http.MethodPost, "/api/documents/upload", `{}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.docs.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpload_TooLarge(t *testing.T) {
	f := newFixture()
	resp, _ := f.api.Handle(context.Background(), multipartRequest(t, "file", "big.bin", make([]byte, 17)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	f.docs.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpload_StoreFailure(t *testing.T) {
	f := newFixture()
	f.docs.On("Upload", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, apperr.New(apperr.StoreFailed, apperr.StageStore, "s3 putobject failed", errors.New("AccessDenied")))

	resp, _ := f.api.Handle(context.Background(), multipartRequest(t, "file", "a.txt", []byte("x")))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	out := decode(t, resp)
	assert.Equal(t, "Failed to upload document", out["error"])
	assert.Equal(t, "AccessDenied", out["details"])
}

func withSub(req events.APIGatewayV2HTTPRequest, sub string) events.APIGatewayV2HTTPRequest {
	req.RequestContext.Authorizer = &events.APIGatewayV2HTTPRequestContextAuthorizerDescription{
		JWT: &events.APIGatewayV2HTTPRequestContextAuthorizerJWTDescription{Claims: map[string]string{"sub": sub}},
	}
	return req
}

func TestListDocuments(t *testing.T) {
	f := newFixture()
	f.docs.On("List", mock.Anything, "user-1").Return([]storage.UploadRecord{{Key: "documents/2-b.pdf"}, {Key: "documents/1-a.pdf"}}, nil)

	resp, _ := f.api.Handle(context.Background(), withSub(request(http.MethodGet, "/api/documents", ""), "user-1"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	items := decode(t, resp)["items"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "documents/2-b.pdf", items[0].(map[string]any)["key"])
}

func TestListDocuments_RequiresSubject(t *testing.T) {
	f := newFixture()

	resp, _ := f.api.Handle(context.Background(), request(http.MethodGet, "/api/documents", ""))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Authentication required", decode(t, resp)["error"])

	resp, _ = f.api.Handle(context.Background(), withSub(request(http.MethodGet, "/api/documents", ""), "  "))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	f.docs.AssertNotCalled(t, "List", mock.Anything, mock.Anything)
}

func TestLogin(t *testing.T) {
	f := newFixture()
	f.auth.On("Login", mock.Anything, "alice", "pw").Return(&identity.Tokens{AccessToken: "a", IdToken: "i"}, nil)

	resp, _ := f.api.Handle(context.Background(),
		request(http.MethodPost, "/api/auth/login", `{"username":"alice","password":"pw"}`))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode(t, resp)
	assert.Equal(t, "Login successful", out["message"])
	assert.Equal(t, "a", out["tokens"].(map[string]any)["AccessToken"])
}

func TestLogin_Failures(t *testing.T) {
	f := newFixture()
	f.auth.On("Login", mock.Anything, "alice", "wrong").
		Return(nil, apperr.New(apperr.AuthFailed, apperr.StageAuth, "cognito initiate auth", errors.New("Incorrect username or password.")))
	f.auth.On("Login", mock.Anything, "ghost", "pw").
		Return(nil, apperr.New(apperr.AuthFailed, apperr.StageAuth, "cognito initiate auth", errors.New("User does not exist.")))

	wrong, _ := f.api.Handle(context.Background(),
		request(http.MethodPost, "/api/auth/login", `{"username":"alice","password":"wrong"}`))
	missing, _ := f.api.Handle(context.Background(),
		request(http.MethodPost, "/api/auth/login", `{"username":"ghost","password":"pw"}`))

	assert.Equal(t, http.StatusUnauthorized, wrong.StatusCode)
	assert.Equal(t, http.StatusUnauthorized, missing.StatusCode)
	assert.Equal(t, map[string]any{"error": "Authentication failed"}, decode(t, wrong))
	assert.Equal(t, wrong.Body, missing.Body)

	resp, _ := f.api.Handle(context.Background(),
		request(http.MethodPost, "/api/auth/login", `{"username":"alice"}`))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotContains(t, decode(t, resp), "details")
}

func TestRegister(t *testing.T) {
	f := newFixture()
	f.auth.On("Register", mock.Anything, "bob", "Passw0rd!", "bob@example.com").Return(nil)

	resp, _ := f.api.Handle(context.Background(), request(http.MethodPost, "/api/auth/register",
		`{"username":"bob","password":"Passw0rd!","email":"bob@example.com"}`))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Registration successful. Please check your email for verification.", decode(t, resp)["message"])

	resp, _ = f.api.Handle(context.Background(), request(http.MethodPost, "/api/auth/register",
		`{"username":"bob","password":"Passw0rd!","email":"not-an-email"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, map[string]any{"error": "Registration failed"}, decode(t, resp))
	f.auth.AssertNumberOfCalls(t, "Register", 1)
}

func TestConfirm(t *testing.T) {
	f := newFixture()
	f.auth.On("Confirm", mock.Anything, "bob", "123456").Return(nil)
	f.auth.On("Confirm", mock.Anything, "bob", "000000").
		Return(apperr.New(apperr.AuthFailed, apperr.StageAuth, "cognito confirm sign up", errors.New("CodeMismatchException")))

	resp, _ := f.api.Handle(context.Background(), request(http.MethodPost, "/api/auth/confirm",
		`{"username":"bob","code":"123456"}`))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.api.Handle(context.Background(), request(http.MethodPost, "/api/auth/confirm",
		`{"username":"bob","code":"000000"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, map[string]any{"error": "Confirmation failed"}, decode(t, resp))
}
