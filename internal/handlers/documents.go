package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"ragbackend/internal/apperr"
	"ragbackend/internal/logger"
	"ragbackend/internal/storage"
)

const uploadField = "file"

var errNoFile = errors.New("no file part")

type uploadResponse struct {
	Message        string `json:"message"`
	Key            string `json:"key"`
	IngestionJobID string `json:"ingestionJobId,omitempty"`
}

func (a *API) uploadDocument(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	log := logger.From(ctx)

	obj, err := readUpload(req, a.docs.MaxBytes())
	if err != nil {
		if apperr.KindOf(err) == apperr.PayloadTooLarge {
			return errDetailResp(http.StatusRequestEntityTooLarge, "File too large",
				fmt.Sprintf("maximum upload size is %d bytes", a.docs.MaxBytes()))
		}
		log.Info("upload rejected", zap.Error(err))
		return errResp(http.StatusBadRequest, "No file uploaded")
	}

	res, err := a.docs.Upload(ctx, userSub(req), obj)
	if err != nil {
		switch status := apperr.HTTPStatus(apperr.KindOf(err)); status {
		case http.StatusBadRequest:
			return errResp(status, "No file uploaded")
		case http.StatusRequestEntityTooLarge:
			return errDetailResp(status, "File too large", detail(err))
		}
		log.Error("upload failed", zap.Error(err))
		return errDetailResp(http.StatusInternalServerError, "Failed to upload document", detail(err))
	}

	return jsonResp(http.StatusOK, uploadResponse{
		Message:        "Document uploaded successfully",
		Key:            res.Record.Key,
		IngestionJobID: res.IngestionJobID,
	})
}

func (a *API) listDocuments(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	sub := userSub(req)
	if sub == "" {
		return errResp(http.StatusUnauthorized, "Authentication required")
	}
	recs, err := a.docs.List(ctx, sub)
	if err != nil {
		logger.From(ctx).Warn("list documents failed", zap.Error(err))
		return errDetailResp(http.StatusInternalServerError, "Failed to list documents", detail(err))
	}
	return jsonResp(http.StatusOK, map[string]any{"items": recs})
}

// readUpload extracts the "file" part of a multipart body. Reading stops one
// byte past maxBytes so oversized uploads are rejected without buffering them.
func readUpload(req events.APIGatewayV2HTTPRequest, maxBytes int64) (storage.Object, error) {
	mediaType, params, err := mime.ParseMediaType(header(req, "content-type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		return storage.Object{}, fmt.Errorf("not a multipart request")
	}

	raw, err := body(req)
	if err != nil {
		return storage.Object{}, fmt.Errorf("decode body: %w", err)
	}

	mr := multipart.NewReader(bytes.NewReader(raw), params["boundary"])
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return storage.Object{}, errNoFile
		}
		if err != nil {
			return storage.Object{}, fmt.Errorf("read multipart: %w", err)
		}
		if part.FormName() != uploadField || part.FileName() == "" {
			part.Close()
			continue
		}

		var r io.Reader = part
		if maxBytes > 0 {
			r = io.LimitReader(part, maxBytes+1)
		}
		data, err := io.ReadAll(r)
		part.Close()
		if err != nil {
			return storage.Object{}, fmt.Errorf("read file part: %w", err)
		}
		if maxBytes > 0 && int64(len(data)) > maxBytes {
			return storage.Object{}, apperr.New(apperr.PayloadTooLarge, apperr.StageValidation,
				fmt.Sprintf("file exceeds %d bytes", maxBytes), nil)
		}
		return storage.Object{
			Body:        data,
			Filename:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
		}, nil
	}
}

func detail(err error) string {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae.Detail()
	}
	return err.Error()
}
