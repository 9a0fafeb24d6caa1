package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/smithy-go"
)

// Kind classifies a failure independently of the backend that produced it.
type Kind string

const (
	InvalidInput     Kind = "InvalidInput"
	PayloadTooLarge  Kind = "PayloadTooLarge"
	NotConfigured    Kind = "NotConfigured"
	Unauthorized     Kind = "Unauthorized"
	RetrievalFailed  Kind = "RetrievalFailed"
	GenerationFailed Kind = "GenerationFailed"
	Timeout          Kind = "Timeout"
	StoreFailed      Kind = "StoreFailed"
	AuthFailed       Kind = "AuthFailed"
	Internal         Kind = "Internal"
)

// Stage names the pipeline step a failure happened in.
type Stage string

const (
	StageValidation Stage = "validation"
	StageConfig     Stage = "config"
	StageRetrieval  Stage = "retrieval"
	StageGeneration Stage = "generation"
	StageStore      Stage = "store"
	StageAuth       Stage = "auth"
)

// Error carries a Kind, the Stage it was raised in and the original cause.
type Error struct {
	Kind    Kind
	Stage   Stage
	Message string
	Err     error
}

func New(kind Kind, stage Stage, msg string, cause error) *Error {
	return &Error{Kind: kind, Stage: stage, Message: msg, Err: cause}
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Detail is the most specific human readable cause: the backend message when
// the cause is an AWS API error, otherwise the cause text or the message.
func (e *Error) Detail() string {
	if e.Err == nil {
		return e.Message
	}
	return BackendMessage(e.Err)
}

// KindOf returns the Kind of the first *Error in err's chain, Internal otherwise.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Internal
}

// StageOf returns the Stage of the first *Error in err's chain.
func StageOf(err error) Stage {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Stage
	}
	return ""
}

// BackendMessage extracts the service-reported message from an SDK error.
func BackendMessage(err error) string {
	if err == nil {
		return ""
	}
	var api smithy.APIError
	if errors.As(err, &api) {
		if msg := api.ErrorMessage(); msg != "" {
			return msg
		}
		return api.ErrorCode()
	}
	return err.Error()
}

// IsTimeout reports whether err was caused by an expired deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// HTTPStatus maps a Kind to the status code the API answers with. Unauthorized
// is the service's own credentials being rejected by a backend, so it is a 500.
func HTTPStatus(k Kind) int {
	switch k {
	case InvalidInput:
		return http.StatusBadRequest
	case PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case AuthFailed:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
