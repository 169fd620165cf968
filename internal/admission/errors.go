package admission

import "github.com/gin-gonic/gin"

// Error is a deterministic, caller-visible admission failure.
type Error struct {
	Status  int
	Message string
	Type    string
	Code    string
}

// Error implements the error interface.
func (e *Error) Error() string { return e.Message }

// NewError builds a plain admission error with type "error".
func NewError(status int, message string) *Error {
	return &Error{Status: status, Message: message, Type: "error"}
}

// Write renders the error as the gateway's JSON error shape and aborts.
func (e *Error) Write(c *gin.Context) {
	body := gin.H{
		"message": e.Message,
		"type":    e.Type,
	}
	if e.Code != "" {
		body["code"] = e.Code
	}
	c.AbortWithStatusJSON(e.Status, gin.H{"error": body})
}
