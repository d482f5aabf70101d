package httputil

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/pulsechat/pulsechat-server/internal/apierrors"
)

// Envelope is the REST response shape for every endpoint (spec §6): success carries the payload, failure carries an
// error body, and both stamp a response timestamp.
type Envelope struct {
	Success    bool             `json:"success"`
	Data       any              `json:"data,omitempty"`
	Error      *apierrors.Error `json:"error,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
	Pagination *Pagination      `json:"pagination,omitempty"`
}

// Pagination describes a page of results, attached to list endpoints (spec §6: page/page_size/total_items/total_pages).
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes a Pagination block from a 1-indexed page, page size, and total item count.
func NewPagination(page, pageSize, totalItems int) Pagination {
	totalPages := (totalItems + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	return Pagination{Page: page, PageSize: pageSize, TotalItems: totalItems, TotalPages: totalPages}
}

// Success sends a 200 JSON envelope wrapping data.
func Success(c fiber.Ctx, data any) error {
	return c.JSON(Envelope{Success: true, Data: data, Timestamp: time.Now()})
}

// SuccessStatus sends a JSON envelope with a custom status code.
func SuccessStatus(c fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(Envelope{Success: true, Data: data, Timestamp: time.Now()})
}

// SuccessPage sends a 200 JSON envelope wrapping data alongside pagination metadata.
func SuccessPage(c fiber.Ctx, data any, page Pagination) error {
	return c.JSON(Envelope{Success: true, Data: data, Timestamp: time.Now(), Pagination: &page})
}

// Fail sends a JSON error envelope, using apiErr.Code to select the HTTP status.
func Fail(c fiber.Ctx, apiErr *apierrors.Error) error {
	return c.Status(apiErr.Code.HTTPStatus()).JSON(Envelope{
		Success:   false,
		Error:     apiErr,
		Timestamp: time.Now(),
	})
}
