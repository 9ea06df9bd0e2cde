package tenant

import (
	"bytes"
	"slices"

	"github.com/google/uuid"

	"github.com/ecgvault/ecgvault/internal/platform/apperr"
)

// Principal is what scoping needs to know about the caller.
type Principal interface {
	PlatformOperator() bool
	TenantAssociation() Association
}

// Scope is the canonical set of tenants an operation may touch. The zero
// value grants no access.
type Scope struct {
	all bool
	ids []uuid.UUID
}

// Unrestricted returns a scope covering every tenant.
func Unrestricted() Scope {
	return Scope{all: true}
}

// Of returns a scope over the given tenant ids.
func Of(ids ...uuid.UUID) Scope {
	return Scope{ids: canonical(ids)}
}

// Resolve normalizes an association into a de-duplicated, sorted scope.
// None and empty lists yield a scope for which NoAccess is true.
func Resolve(a Association) Scope {
	switch v := a.(type) {
	case Single:
		return Of(v.ID)
	case Many:
		return Of(v.IDs...)
	default:
		return Scope{}
	}
}

// ScopeFor computes the scope of an operation. Platform operators are
// unrestricted unless filter narrows them; everyone else gets their
// resolved association intersected with filter. An empty filter means no
// narrowing.
func ScopeFor(p Principal, filter []uuid.UUID) Scope {
	var base Scope
	if p.PlatformOperator() {
		base = Unrestricted()
	} else {
		base = Resolve(p.TenantAssociation())
	}
	if len(filter) == 0 {
		return base
	}
	return base.Intersect(Of(filter...))
}

// Intersect returns the tenants present in both scopes.
func (s Scope) Intersect(other Scope) Scope {
	switch {
	case s.all:
		return other
	case other.all:
		return s
	}
	out := make([]uuid.UUID, 0, len(s.ids))
	for _, id := range s.ids {
		if other.Contains(id) {
			out = append(out, id)
		}
	}
	return Scope{ids: out}
}

// Contains reports whether id is inside the scope.
func (s Scope) Contains(id uuid.UUID) bool {
	if s.all {
		return true
	}
	_, found := slices.BinarySearchFunc(s.ids, id, compareID)
	return found
}

// IDs returns the tenant ids of a restricted scope. It is nil for an
// unrestricted scope.
func (s Scope) IDs() []uuid.UUID {
	if s.all {
		return nil
	}
	return slices.Clone(s.ids)
}

// Strings returns IDs as strings, the form bound to a uuid[] placeholder.
func (s Scope) Strings() []string {
	out := make([]string, len(s.ids))
	for i, id := range s.ids {
		out[i] = id.String()
	}
	return out
}

func (s Scope) Unrestricted() bool { return s.all }

// NoAccess reports whether the scope covers no tenant at all.
func (s Scope) NoAccess() bool { return !s.all && len(s.ids) == 0 }

// Single returns the only tenant of the scope, if it has exactly one.
func (s Scope) Single() (uuid.UUID, bool) {
	if s.all || len(s.ids) != 1 {
		return uuid.Nil, false
	}
	return s.ids[0], true
}

func canonical(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id != uuid.Nil {
			out = append(out, id)
		}
	}
	slices.SortFunc(out, compareID)
	return slices.Compact(out)
}

func compareID(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

// Assign picks the tenant a new record of collection belongs to. A zero
// requested id falls back to the principal's only tenant.
func Assign(p Principal, collection string, requested uuid.UUID) (uuid.UUID, error) {
	scope := ScopeFor(p, nil)
	if requested == uuid.Nil {
		if id, ok := scope.Single(); ok {
			return id, nil
		}
		return uuid.Nil, apperr.Invalid("tenant_id", "tenant is required")
	}
	if !scope.Contains(requested) {
		return uuid.Nil, &apperr.TenantMismatchError{Collection: collection}
	}
	return requested, nil
}
