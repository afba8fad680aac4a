package utils

import (
	"github.com/gin-gonic/gin"
)

type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "request_id"

func SuccessResponse(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(code, APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		RequestID: c.GetString(RequestIDKey),
	})
}

// ErrorResponse writes the error envelope. err is shown to the caller, so pass
// nil for internal failures and log them instead.
func ErrorResponse(c *gin.Context, code int, message string, err error) {
	response := APIResponse{
		Success:   false,
		Message:   message,
		RequestID: c.GetString(RequestIDKey),
	}

	if err != nil {
		response.Error = err.Error()
	}

	c.JSON(code, response)
}
