package pagination

import (
	"fmt"
	"math"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultPageSize = 20
	MaxLimit        = 100
)

// Params holds 1-based page pagination extracted from a request.
type Params struct {
	Page     int
	PageSize int
}

// New normalizes page and pageSize: page is at least 1 and pageSize falls
// back to DefaultPageSize and is clamped to MaxLimit. Page is capped so
// the offset of the page after it still fits in an int.
func New(page, pageSize int) Params {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxLimit {
		pageSize = MaxLimit
	}
	if maxPage := math.MaxInt / pageSize; page > maxPage {
		page = maxPage
	}
	return Params{Page: page, PageSize: pageSize}
}

// FromContext extracts pagination parameters from the echo context. Both
// pageSize and page_size are accepted, as is limit.
func FromContext(c echo.Context) Params {
	page, _ := strconv.Atoi(c.QueryParam("page"))

	size, _ := strconv.Atoi(c.QueryParam("pageSize"))
	if size <= 0 {
		size, _ = strconv.Atoi(c.QueryParam("page_size"))
	}
	if size <= 0 {
		size, _ = strconv.Atoi(c.QueryParam("limit"))
	}

	return New(page, size)
}

// Offset returns the number of items before the current page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Window returns the [start, end) slice bounds of the current page over a
// result set of total items.
func (p Params) Window(total int) (start, end int) {
	start = p.Offset()
	if start > total {
		start = total
	}
	end = start + p.PageSize
	if end > total {
		end = total
	}
	return start, end
}

// SQL returns the LIMIT and OFFSET clause for SQL queries.
func (p Params) SQL() string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", p.PageSize, p.Offset())
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset()+p.PageSize < total
}

// TotalPages returns the number of pages needed for total items.
func (p Params) TotalPages(total int) int {
	if total == 0 {
		return 0
	}
	return (total + p.PageSize - 1) / p.PageSize
}
