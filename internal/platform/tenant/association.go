// Package tenant normalizes an actor's tenant association and turns it
// into the scope every patient and exam query is restricted to.
package tenant

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ecgvault/ecgvault/internal/platform/apperr"
)

// Association is the tenant link carried by an actor. It is one of None,
// Single or Many.
type Association interface {
	isAssociation()
}

// None is an actor bound to no tenant.
type None struct{}

// Single is an actor bound to exactly one tenant.
type Single struct {
	ID uuid.UUID
}

// Many is an actor bound to a list of tenants.
type Many struct {
	IDs []uuid.UUID
}

func (None) isAssociation()   {}
func (Single) isAssociation() {}
func (Many) isAssociation()   {}

// objectIDKeys are the keys checked, in order, when a tenant arrives as an
// object instead of a bare id.
var objectIDKeys = []string{"id", "_id", "tenant_id", "tenantId"}

// ParseAssociation accepts the shapes upstream identity providers emit: a
// bare id, a list of ids, a list of tenant objects, a single object or
// nothing at all. An id that is not a UUID is a validation error.
func ParseAssociation(raw any) (Association, error) {
	switch v := raw.(type) {
	case nil:
		return None{}, nil
	case Association:
		return v, nil
	case uuid.UUID:
		if v == uuid.Nil {
			return None{}, nil
		}
		return Single{ID: v}, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return None{}, nil
		}
		id, err := parseID(v)
		if err != nil {
			return nil, err
		}
		return Single{ID: id}, nil
	case []uuid.UUID:
		return fromIDs(v), nil
	case []string:
		ids := make([]uuid.UUID, 0, len(v))
		for _, s := range v {
			id, err := parseID(s)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return fromIDs(ids), nil
	case []any:
		ids := make([]uuid.UUID, 0, len(v))
		for _, item := range v {
			id, err := idOf(item)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return fromIDs(ids), nil
	case map[string]any:
		id, err := idOf(v)
		if err != nil {
			return nil, err
		}
		return Single{ID: id}, nil
	default:
		return nil, apperr.Invalid("tenants", fmt.Sprintf("unsupported tenant association %T", raw))
	}
}

func fromIDs(ids []uuid.UUID) Association {
	switch len(ids) {
	case 0:
		return None{}
	case 1:
		return Single{ID: ids[0]}
	default:
		return Many{IDs: ids}
	}
}

func idOf(item any) (uuid.UUID, error) {
	switch v := item.(type) {
	case string:
		return parseID(v)
	case uuid.UUID:
		return v, nil
	case map[string]any:
		for _, key := range objectIDKeys {
			if raw, ok := v[key]; ok {
				return idOf(raw)
			}
		}
		return uuid.Nil, apperr.Invalid("tenants", "tenant object has no id")
	default:
		return uuid.Nil, apperr.Invalid("tenants", fmt.Sprintf("unsupported tenant entry %T", item))
	}
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, apperr.Invalid("tenants", fmt.Sprintf("invalid tenant reference %q", s))
	}
	return id, nil
}

// ParseFilter parses repeated tenant_id query values.
func ParseFilter(values []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		id, err := parseID(v)
		if err != nil {
			return nil, apperr.Invalid("tenant_id", "invalid tenant reference")
		}
		out = append(out, id)
	}
	return out, nil
}
