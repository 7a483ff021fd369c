package db

import (
	"fmt"

	"appmanager/internal/constants"
)

// PaginationOptions represents pagination parameters
type PaginationOptions struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// DefaultPaginationOptions returns default pagination settings
func DefaultPaginationOptions() PaginationOptions {
	return PaginationOptions{
		Page:     1,
		PageSize: constants.DefaultPageSize,
	}
}

// Validate checks if pagination options are valid
func (p PaginationOptions) Validate() error {
	if p.Page < 1 {
		return fmt.Errorf("page must be >= 1")
	}
	if p.PageSize < 1 || p.PageSize > constants.MaxPageSize {
		return fmt.Errorf("page_size must be between 1 and %d", constants.MaxPageSize)
	}
	return nil
}

// Offset returns the number of rows to skip
func (p PaginationOptions) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// PaginatedResponse represents a paginated response
type PaginatedResponse[T any] struct {
	Data       []T `json:"data"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// NewPaginatedResponse creates a new paginated response
func NewPaginatedResponse[T any](data []T, options PaginationOptions, totalItems int) *PaginatedResponse[T] {
	if data == nil {
		data = []T{}
	}
	totalPages := (totalItems + options.PageSize - 1) / options.PageSize
	return &PaginatedResponse[T]{
		Data:       data,
		Page:       options.Page,
		PageSize:   options.PageSize,
		TotalItems: totalItems,
		TotalPages: totalPages,
	}
}
