package server

import "github.com/gofiber/fiber/v2"

// APIResponse is the uniform envelope all handlers return.
type APIResponse struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// SendSuccess writes a success envelope with the given payload.
func SendSuccess(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(APIResponse{
		Status: "success",
		Data:   data,
	})
}

// SendError writes an error envelope with the given message.
func SendError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(APIResponse{
		Status:  "error",
		Message: message,
	})
}
