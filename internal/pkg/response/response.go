// Package response holds the error envelope shared by all handlers.
package response

import "github.com/gin-gonic/gin"

func Error(c *gin.Context, statusCode int, code string, message string) {
	c.JSON(statusCode, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// ErrorWithStack attaches a stack trace to the envelope; only used in
// development mode.
func ErrorWithStack(c *gin.Context, statusCode int, code string, message string, stack string) {
	c.JSON(statusCode, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
			"stack":   stack,
		},
	})
}
