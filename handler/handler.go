// Package handler exposes the Answer Service as POST /api/chat, both as an
// API Gateway Lambda handler and as a plain http.Handler.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"talk-pdf/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	// DefaultMaxBodyBytes fits a 20 MiB document after base64 expansion.
	DefaultMaxBodyBytes int64 = 32 << 20
)

type AskUseCase interface {
	Ask(ctx context.Context, in usecase.AskInput) (usecase.AskOutput, error)
}

type askRequest struct {
	Question       string `json:"question"`
	PDFBase64      string `json:"pdfBase64"`
	ConversationID string `json:"conversation_id"`
}

type askResponse struct {
	Answer string `json:"answer"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type Handler struct {
	uc           AskUseCase
	maxBodyBytes int64
}

type Option func(*Handler)

func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

func NewHandler(uc AskUseCase, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	h := &Handler{uc: uc, maxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle serves API Gateway proxy events.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return h.response(http.StatusBadRequest, correlationID, errorResponse{
				Error: "Invalid request body",
				Code:  string(usecase.ErrorInvalidRequest),
			})
		}
		body = decoded
	}

	status, payload := h.serve(ctx, correlationID, headerValue(event.Headers, "Authorization"), body)
	return h.response(status, correlationID, payload)
}

func (h *Handler) response(status int, correlationID string, payload any) (events.APIGatewayProxyResponse, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return events.APIGatewayProxyResponse{}, fmt.Errorf("handler: marshal response: %w", err)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(raw),
	}, nil
}

// ServeHTTP serves the same endpoint for the standalone server.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := r.Header.Get(correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	w.Header().Set(correlationHeader, correlationID)

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodyBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body", Code: string(usecase.ErrorInvalidRequest)})
		return
	}

	status, payload := h.serve(r.Context(), correlationID, r.Header.Get("Authorization"), body)
	writeJSON(w, status, payload)
}

// serve runs one ask and maps the result to a status and JSON payload.
// Panics are reported as internal errors.
func (h *Handler) serve(ctx context.Context, correlationID, authorization string, body []byte) (status int, payload any) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.ErrorContext(ctx, "panic serving ask", "correlation_id", correlationID, "panic", rec)
			status, payload = errorPayload(&usecase.Error{Code: usecase.ErrorInternal, Reason: "panic"})
		}
	}()

	if int64(len(body)) > h.maxBodyBytes {
		slog.WarnContext(ctx, "request body too large", "correlation_id", correlationID, "bytes", len(body))
		return errorPayload(&usecase.Error{Code: usecase.ErrorPayloadTooLarge, Reason: "body_too_large"})
	}

	var req askRequest
	if err := json.Unmarshal(body, &req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "correlation_id", correlationID, "err", err)
		return http.StatusBadRequest, errorResponse{Error: "Invalid request body", Code: string(usecase.ErrorInvalidRequest)}
	}

	out, err := h.uc.Ask(ctx, usecase.AskInput{
		Question:       req.Question,
		DocumentBase64: req.PDFBase64,
		ConversationID: req.ConversationID,
		Token:          bearerToken(authorization),
	})
	if err != nil {
		status, payload = errorPayload(err)
		slog.WarnContext(ctx, "ask failed",
			"correlation_id", correlationID,
			"conversation_id", req.ConversationID,
			"status", status,
			"err", err,
		)
		return status, payload
	}

	slog.InfoContext(ctx, "ask answered",
		"correlation_id", correlationID,
		"conversation_id", req.ConversationID,
		"entry_id", out.EntryID,
		"persisted", out.Persisted,
	)
	return http.StatusOK, askResponse{Answer: out.Answer}
}

func errorPayload(err error) (int, errorResponse) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		ucErr = &usecase.Error{Code: usecase.ErrorInternal, Reason: "unexpected", Err: err}
	}
	return statusFor(ucErr.Code), errorResponse{Error: ucErr.Message(), Code: string(ucErr.Code)}
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidRequest:
		return http.StatusBadRequest
	case usecase.ErrorUnauthenticated:
		return http.StatusUnauthorized
	case usecase.ErrorConversationNotFound:
		return http.StatusNotFound
	case usecase.ErrorPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case usecase.ErrorStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// headerValue looks a header up case-insensitively; API Gateway passes
// headers through with the client's casing.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
