package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/0xcro3dile/docrag/internal/domain/entities"
)

// APIError is the body of every error response.
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ErrorEnvelope wraps an APIError. File and Sources carry partial results:
// the failed file record of an upload, or the retrieved chunks of a question
// whose answer could not be generated.
type ErrorEnvelope struct {
	Error   APIError                   `json:"error"`
	File    *entities.File             `json:"file,omitempty"`
	Sources []entities.RetrievalResult `json:"sources,omitempty"`
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	switch entities.KindOf(err) {
	case entities.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case entities.KindCorruptDocument, entities.KindEmptyDocument:
		return http.StatusUnprocessableEntity
	case entities.KindInvalidInput:
		return http.StatusBadRequest
	case entities.KindNoDocumentsIndexed, entities.KindNotFound:
		return http.StatusNotFound
	case entities.KindModelUnavailable:
		return http.StatusServiceUnavailable
	case entities.KindSynthesisBackend:
		return http.StatusBadGateway
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func codeFor(err error) string {
	if kind := entities.KindOf(err); kind != "" {
		return string(kind)
	}
	return "internal_error"
}

func messageFor(err error) string {
	if entities.KindOf(err) == entities.KindNoDocumentsIndexed {
		return "no documents are indexed yet; upload a file before asking questions"
	}
	return err.Error()
}

// RespondError writes err as an error envelope with the status for its kind.
func RespondError(c *gin.Context, err error) {
	respondEnvelope(c, err, ErrorEnvelope{})
}

func respondEnvelope(c *gin.Context, err error, env ErrorEnvelope) {
	msg := "unknown error"
	code := "internal_error"
	status := http.StatusInternalServerError
	if err != nil {
		msg = messageFor(err)
		code = codeFor(err)
		status = statusFor(err)
		_ = c.Error(err)
	}
	env.Error = APIError{Message: msg, Code: code}
	c.JSON(status, env)
}

func respondBadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorEnvelope{Error: APIError{Message: msg, Code: string(entities.KindInvalidInput)}})
}
