package resp

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Business codes folded into the response envelope.
const (
	CodeOK          = 0
	CodeRequestErr  = 40001
	CodeNotFound    = 40401
	CodeConflict    = 40901
	CodeServerErr   = 50001
	CodeUnavailable = 50301
)

var codeText = map[int]string{
	CodeOK:          "ok",
	CodeRequestErr:  "request error",
	CodeNotFound:    "not found",
	CodeConflict:    "conflict",
	CodeServerErr:   "server error",
	CodeUnavailable: "service unavailable",
}

// Text returns the default message for a business code.
func Text(code int) string {
	if t, ok := codeText[code]; ok {
		return t
	}
	return codeText[CodeServerErr]
}

// Exception represents the response structure.
type Exception struct {
	Status  int    `json:"status,omitempty"`  // HTTP status
	Code    int    `json:"code,omitempty"`    // Business code
	Message string `json:"message,omitempty"` // Message
	Errors  any    `json:"errors,omitempty"`  // Validation errors
	Data    any    `json:"data,omitempty"`    // Response data
}

// Success handles success responses.
func Success(c *gin.Context, data ...any) {
	WithStatusCode(c, http.StatusOK, data...)
}

// WithStatusCode handles success responses with custom status code.
func WithStatusCode(c *gin.Context, statusCode int, data ...any) {
	var responseData any
	if len(data) > 0 {
		responseData = data[0]
	}
	if msg, ok := responseData.(string); ok {
		c.JSON(statusCode, gin.H{"message": msg})
		return
	}
	if responseData == nil {
		c.JSON(statusCode, gin.H{"message": "ok"})
		return
	}
	c.JSON(statusCode, responseData)
}

// Fail handles failure responses.
func Fail(c *gin.Context, r *Exception) {
	if r == nil {
		r = &Exception{
			Status:  http.StatusInternalServerError,
			Code:    CodeServerErr,
			Message: Text(CodeServerErr),
		}
	}

	status := r.Status
	if status == 0 {
		status = http.StatusBadRequest
	}
	code := r.Code
	if code == 0 {
		code = CodeRequestErr
	}
	message := r.Message
	if message == "" {
		message = Text(code)
	}

	c.JSON(status, &Exception{
		Code:    code,
		Message: message,
		Errors:  r.Errors,
	})
}

// BadRequest creates a bad request response.
func BadRequest(message string, errors ...any) *Exception {
	return exception(http.StatusBadRequest, CodeRequestErr, message, errors...)
}

// NotFound creates a not found response.
func NotFound(message string, errors ...any) *Exception {
	return exception(http.StatusNotFound, CodeNotFound, message, errors...)
}

// Conflict creates a conflict response.
func Conflict(message string, errors ...any) *Exception {
	return exception(http.StatusConflict, CodeConflict, message, errors...)
}

// InternalServer creates an internal server error response.
func InternalServer(message string, errors ...any) *Exception {
	return exception(http.StatusInternalServerError, CodeServerErr, message, errors...)
}

func exception(status, code int, message string, errors ...any) *Exception {
	e := &Exception{Status: status, Code: code, Message: message}
	if len(errors) > 0 {
		e.Errors = errors[0]
	}
	return e
}
