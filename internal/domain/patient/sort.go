package patient

import (
	"fmt"
	"strings"

	"github.com/ecgvault/ecgvault/internal/platform/apperr"
	"github.com/ecgvault/ecgvault/internal/platform/pipeline"
)

func byName(a, b *Patient) int {
	return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
}

func byCreatedAt(a, b *Patient) int { return a.CreatedAt.Compare(b.CreatedAt) }

// Birth dates are canonical YYYY-MM-DD, so string order is date order.
func byBirthDate(a, b *Patient) int { return strings.Compare(a.BirthDate, b.BirthDate) }

var sortKeys = map[string]func(a, b *Patient) int{
	"name":      byName,
	"createdAt": byCreatedAt,
	"birthDate": byBirthDate,
}

// comparator resolves a sort request. Name ascending is the default; ties
// always fall back to newest first.
func comparator(key, order string) (func(a, b *Patient) int, error) {
	if key == "" {
		key = "name"
	}
	primary, ok := sortKeys[key]
	if !ok {
		return nil, apperr.Invalid("sort", fmt.Sprintf("unknown sort key %q", key))
	}

	switch order {
	case "", "asc":
	case "desc":
		primary = pipeline.Reverse(primary)
	default:
		return nil, apperr.Invalid("order", fmt.Sprintf("unknown order %q", order))
	}

	if key == "createdAt" {
		return primary, nil
	}
	return pipeline.Then(primary, pipeline.Reverse(byCreatedAt)), nil
}
