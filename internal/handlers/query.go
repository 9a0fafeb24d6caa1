package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"ragbackend/internal/apperr"
	"ragbackend/internal/logger"
	"ragbackend/internal/rag"
)

const kbNotConfiguredMsg = "Knowledge Base ID not configured. Check BEDROCK_KNOWLEDGE_BASE_ID in .env file."

type queryResponse struct {
	Message string       `json:"message"`
	Sources []rag.Source `json:"sources"`
	Context string       `json:"context"`
}

func (a *API) query(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	raw, err := body(req)
	if err != nil {
		return errResp(http.StatusBadRequest, "invalid body encoding")
	}
	var in rag.QueryRequest
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &in); err != nil {
			return errResp(http.StatusBadRequest, "invalid JSON body")
		}
	}
	if strings.TrimSpace(in.Query) == "" {
		return errResp(http.StatusBadRequest, "Query is required")
	}

	res, err := a.rag.Answer(ctx, in)
	if err != nil {
		logger.From(ctx).Error("query failed",
			zap.String("stage", string(apperr.StageOf(err))),
			zap.Error(err),
		)
		return queryError(err)
	}

	return jsonResp(http.StatusOK, queryResponse{
		Message: res.Answer,
		Sources: res.Sources,
		Context: res.Context,
	})
}

// queryError renders an orchestrator failure. The error text tells which stage
// failed; details carries the backend message.
func queryError(err error) (events.APIGatewayV2HTTPResponse, error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		return errDetailResp(http.StatusInternalServerError, "Failed to process query", err.Error())
	}

	status := apperr.HTTPStatus(ae.Kind)
	switch {
	case ae.Kind == apperr.InvalidInput:
		return errResp(status, "Query is required")
	case ae.Stage == apperr.StageConfig:
		return errResp(status, kbNotConfiguredMsg)
	case ae.Stage == apperr.StageRetrieval:
		return errDetailResp(status, "Knowledge Base Error: "+ae.Message, ae.Detail())
	default:
		return errDetailResp(status, "Failed to process query", ae.Detail())
	}
}
