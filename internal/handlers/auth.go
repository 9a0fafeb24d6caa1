package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"ragbackend/internal/apperr"
	"ragbackend/internal/identity"
	"ragbackend/internal/logger"
)

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type registerRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
}

type confirmRequest struct {
	Username string `json:"username" validate:"required"`
	Code     string `json:"code" validate:"required"`
}

type loginResponse struct {
	Message string           `json:"message"`
	Tokens  *identity.Tokens `json:"tokens"`
}

// decodeValid unmarshals the request body into v and runs struct validation.
func (a *API) decodeValid(req events.APIGatewayV2HTTPRequest, v any) error {
	raw, err := body(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return err
	}
	return a.validate.Struct(v)
}

func (a *API) login(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	log := logger.From(ctx)
	var in loginRequest
	if err := a.decodeValid(req, &in); err != nil {
		log.Info("login rejected", zap.Error(err))
		return errResp(http.StatusUnauthorized, "Authentication failed")
	}

	tokens, err := a.auth.Login(ctx, in.Username, in.Password)
	if err != nil {
		return authFailure(log, "login", in.Username, http.StatusUnauthorized, "Authentication failed", err)
	}

	return jsonResp(http.StatusOK, loginResponse{Message: "Login successful", Tokens: tokens})
}

func (a *API) register(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	log := logger.From(ctx)
	var in registerRequest
	if err := a.decodeValid(req, &in); err != nil {
		log.Info("registration rejected", zap.Error(err))
		return errResp(http.StatusBadRequest, "Registration failed")
	}

	if err := a.auth.Register(ctx, in.Username, in.Password, in.Email); err != nil {
		return authFailure(log, "registration", in.Username, http.StatusBadRequest, "Registration failed", err)
	}

	return jsonResp(http.StatusOK, map[string]string{
		"message": "Registration successful. Please check your email for verification.",
	})
}

func (a *API) confirm(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	log := logger.From(ctx)
	var in confirmRequest
	if err := a.decodeValid(req, &in); err != nil {
		log.Info("confirmation rejected", zap.Error(err))
		return errResp(http.StatusBadRequest, "Confirmation failed")
	}

	if err := a.auth.Confirm(ctx, in.Username, in.Code); err != nil {
		return authFailure(log, "confirmation", in.Username, http.StatusBadRequest, "Confirmation failed", err)
	}

	return jsonResp(http.StatusOK, map[string]string{"message": "Account confirmed. You can now log in."})
}

// authFailure logs the identity provider's message and answers with msg only.
// Cognito messages tell a missing user from a wrong password, so they never
// reach the caller.
func authFailure(log *zap.Logger, op, username string, status int, msg string, err error) (events.APIGatewayV2HTTPResponse, error) {
	if s, ok := authServerError(err); ok {
		log.Error(op+" unavailable", zap.Error(err))
		return errResp(s, msg)
	}
	log.Info(op+" failed", zap.String("username", username), zap.Error(err))
	return errResp(status, msg)
}

// authServerError picks out failures that are ours rather than the caller's.
func authServerError(err error) (int, bool) {
	switch apperr.KindOf(err) {
	case apperr.NotConfigured, apperr.Timeout:
		return http.StatusInternalServerError, true
	}
	return 0, false
}
