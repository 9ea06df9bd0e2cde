// Package pipeline runs list queries whose predicates or ordering touch
// encrypted attributes. The store returns the tenant-scoped candidate set;
// everything else happens here, on plaintext, before pagination.
//
// Every call materializes and decodes the full candidate set, so cost is
// linear in the tenant's record count.
package pipeline

import (
	"slices"
	"strings"

	"github.com/ecgvault/ecgvault/pkg/pagination"
)

// Page is one page of a filtered, sorted result. Total counts the whole
// filtered set.
type Page[T any] struct {
	Items      []T  `json:"items"`
	Total      int  `json:"total"`
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
}

// Query describes the in-memory half of a list operation. Nil Match keeps
// every record; nil Less keeps store order.
type Query[T any] struct {
	Match    func(T) bool
	Less     func(a, b T) int
	Page     int
	PageSize int
}

// Run decodes rows, applies q and paginates. decode must not fail: field
// fallbacks are its responsibility.
func Run[R, T any](rows []R, decode func(R) T, q Query[T]) Page[T] {
	items := make([]T, 0, len(rows))
	for _, r := range rows {
		v := decode(r)
		if q.Match == nil || q.Match(v) {
			items = append(items, v)
		}
	}

	if q.Less != nil {
		slices.SortStableFunc(items, q.Less)
	}

	p := pagination.New(q.Page, q.PageSize)
	start, end := p.Window(len(items))
	return Page[T]{
		Items:      slices.Clip(items[start:end]),
		Total:      len(items),
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalPages: p.TotalPages(len(items)),
		HasNext:    p.HasNext(len(items)),
	}
}

// Empty is the result of a query whose scope covers no tenant.
func Empty[T any](page, pageSize int) Page[T] {
	p := pagination.New(page, pageSize)
	return Page[T]{Items: []T{}, Page: p.Page, PageSize: p.PageSize}
}

// All combines predicates; nil entries are ignored.
func All[T any](preds ...func(T) bool) func(T) bool {
	return func(v T) bool {
		for _, p := range preds {
			if p != nil && !p(v) {
				return false
			}
		}
		return true
	}
}

// Contains reports whether needle occurs in haystack, ignoring case. An
// empty needle matches everything.
func Contains(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// Then chains comparators: later ones break ties of earlier ones.
func Then[T any](cmps ...func(a, b T) int) func(a, b T) int {
	return func(a, b T) int {
		for _, c := range cmps {
			if r := c(a, b); r != 0 {
				return r
			}
		}
		return 0
	}
}

// Reverse flips a comparator.
func Reverse[T any](cmp func(a, b T) int) func(a, b T) int {
	return func(a, b T) int { return cmp(b, a) }
}
