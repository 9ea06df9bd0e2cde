package patient

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ecgvault/ecgvault/internal/platform/apperr"
	"github.com/ecgvault/ecgvault/internal/platform/auth"
	"github.com/ecgvault/ecgvault/internal/platform/hipaa"
	"github.com/ecgvault/ecgvault/internal/platform/tenant"
)

// -- Mock Store --

type mockStore struct {
	mu   sync.Mutex
	docs map[uuid.UUID]Document
}

func newMockStore() *mockStore {
	return &mockStore{docs: make(map[uuid.UUID]Document)}
}

func (m *mockStore) Insert(_ context.Context, d *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[d.ID] = *d
	return nil
}

func (m *mockStore) Get(_ context.Context, id uuid.UUID) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, apperr.NotFound(collection, id)
	}
	return &d, nil
}

func (m *mockStore) List(_ context.Context, f StoreFilter) ([]*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Document
	for _, d := range m.docs {
		if !f.Scope.Contains(d.TenantID) {
			continue
		}
		if f.Email != "" && !strings.Contains(d.Email, f.Email) {
			continue
		}
		d := d
		out = append(out, &d)
	}
	return out, nil
}

func (m *mockStore) Update(_ context.Context, d *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[d.ID]; !ok {
		return apperr.NotFound(collection, d.ID)
	}
	m.docs[d.ID] = *d
	return nil
}

func (m *mockStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

// -- Fixtures --

var (
	tenantA = uuid.MustParse("a1000000-0000-4000-8000-000000000001")
	tenantB = uuid.MustParse("b2000000-0000-4000-8000-000000000002")
)

func actorOf(role string, tenants tenant.Association) auth.Actor {
	return auth.Actor{ID: "user-" + role, Role: role, Tenants: tenants, IP: "10.0.0.7", UserAgent: "ecg-console/2.1"}
}

var (
	adminA   = actorOf(auth.RoleTenantAdmin, tenant.Single{ID: tenantA})
	adminB   = actorOf(auth.RoleTenantAdmin, tenant.Single{ID: tenantB})
	operator = actorOf(auth.RolePlatformOperator, tenant.None{})
)

type fixture struct {
	svc    *Service
	store  *mockStore
	audit  *hipaa.AuditRecorder
	trail  *hipaa.MemoryAuditStore
	cipher *hipaa.FieldCipher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cipher, err := hipaa.NewFieldCipher(key)
	if err != nil {
		t.Fatalf("create cipher: %v", err)
	}
	store := newMockStore()
	trail := hipaa.NewMemoryAuditStore()
	audit := hipaa.NewAuditRecorder(trail, zerolog.Nop())
	return &fixture{
		svc:    NewService(store, cipher, audit, zerolog.Nop()),
		store:  store,
		audit:  audit,
		trail:  trail,
		cipher: cipher,
	}
}

func (f *fixture) entries() []*hipaa.AuditEntry {
	f.audit.Flush()
	return f.trail.Entries()
}

// entryFor returns the only entry recorded for action. Recorder writes are
// concurrent, so tests look entries up instead of relying on order.
func entryFor(t *testing.T, entries []*hipaa.AuditEntry, action hipaa.AuditAction) *hipaa.AuditEntry {
	t.Helper()
	var found *hipaa.AuditEntry
	for _, e := range entries {
		if e.Action == action {
			if found != nil {
				t.Fatalf("more than one %s entry", action)
			}
			found = e
		}
	}
	if found == nil {
		t.Fatalf("no %s entry among %d", action, len(entries))
	}
	return found
}

func validInput() Input {
	return Input{
		Name:       "Maria da Silva",
		NationalID: "123.456.789-00",
		BirthDate:  "14/03/1985",
		Address:    "Rua das Flores, 123",
		Phone:      "(11) 98765-4321",
		Email:      "Maria.Silva@Example.com",
	}
}

func mustCreate(t *testing.T, f *fixture, actor auth.Actor, in Input) *Patient {
	t.Helper()
	p, err := f.svc.Create(context.Background(), actor, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return p
}

// -- Tests --

func TestCreate_CanonicalizesAndEncrypts(t *testing.T) {
	f := newFixture(t)
	p := mustCreate(t, f, adminA, validInput())

	if p.ID == uuid.Nil {
		t.Fatal("expected id to be assigned")
	}
	if p.TenantID != tenantA {
		t.Errorf("TenantID = %s, want actor's tenant", p.TenantID)
	}
	if p.NationalID != "12345678900" {
		t.Errorf("NationalID = %q", p.NationalID)
	}
	if p.BirthDate != "1985-03-14" {
		t.Errorf("BirthDate = %q", p.BirthDate)
	}
	if p.Email != "maria.silva@example.com" {
		t.Errorf("Email = %q", p.Email)
	}

	d, err := f.store.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("stored document: %v", err)
	}
	for field, token := range map[string]string{
		"name": d.Name, "national_id": d.NationalID, "birth_date": d.BirthDate,
		"address": d.Address, "phone": d.Phone,
	} {
		if !f.cipher.IsToken(token) {
			t.Errorf("%s stored as %q, expected a cipher token", field, token)
		}
	}
	if d.Email != "maria.silva@example.com" {
		t.Errorf("email should be stored in the clear, got %q", d.Email)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), adminA, Input{BirthDate: "1985-13-45", Email: "nope"})

	var verr *apperr.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, key := range []string{"name", "national_id", "address", "birth_date", "email"} {
		if _, ok := verr.Fields[key]; !ok {
			t.Errorf("expected field error for %s", key)
		}
	}
}

func TestCreate_BirthDateLayouts(t *testing.T) {
	for _, in := range []string{"1985-03-14", "1985-03-14T00:00:00Z", "14/03/1985"} {
		t.Run(in, func(t *testing.T) {
			f := newFixture(t)
			pi := validInput()
			pi.BirthDate = in
			if p := mustCreate(t, f, adminA, pi); p.BirthDate != "1985-03-14" {
				t.Errorf("BirthDate = %q", p.BirthDate)
			}
		})
	}
}

func TestCreate_UniqueNationalIDPerTenant(t *testing.T) {
	f := newFixture(t)
	mustCreate(t, f, adminA, validInput())

	dup := validInput()
	dup.Name = "Another Person"
	dup.NationalID = "12345678900"
	_, err := f.svc.Create(context.Background(), adminA, dup)
	if !errors.Is(err, apperr.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	var derr *apperr.DuplicateError
	if !errors.As(err, &derr) || derr.Field != "national_id" || derr.TenantID != tenantA {
		t.Errorf("unexpected duplicate error %+v", derr)
	}

	// The same national id is free in another tenant.
	if _, err := f.svc.Create(context.Background(), adminB, dup); err != nil {
		t.Fatalf("create in tenant B: %v", err)
	}
}

func TestCreate_TenantResolution(t *testing.T) {
	f := newFixture(t)

	t.Run("operator must name a tenant", func(t *testing.T) {
		_, err := f.svc.Create(context.Background(), operator, validInput())
		if !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("operator with tenant", func(t *testing.T) {
		in := validInput()
		in.TenantID = tenantB
		if p := mustCreate(t, f, operator, in); p.TenantID != tenantB {
			t.Errorf("TenantID = %s", p.TenantID)
		}
	})

	t.Run("foreign tenant", func(t *testing.T) {
		in := validInput()
		in.NationalID = "99999999999"
		in.TenantID = tenantB
		_, err := f.svc.Create(context.Background(), adminA, in)
		if !errors.Is(err, apperr.ErrTenantMismatch) {
			t.Fatalf("expected ErrTenantMismatch, got %v", err)
		}
	})

	t.Run("multi tenant actor must choose", func(t *testing.T) {
		multi := actorOf(auth.RoleDoctor, tenant.Many{IDs: []uuid.UUID{tenantA, tenantB}})
		_, err := f.svc.Create(context.Background(), multi, validInput())
		if !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("no tenants", func(t *testing.T) {
		_, err := f.svc.Create(context.Background(), actorOf(auth.RoleDoctor, tenant.None{}), validInput())
		if !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})
}

func TestCreate_AuditEntry(t *testing.T) {
	f := newFixture(t)
	p := mustCreate(t, f, adminA, validInput())

	entries := f.entries()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one audit entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Action != hipaa.ActionCreate || e.CollectionName != "patients" {
		t.Errorf("unexpected entry %s/%s", e.Action, e.CollectionName)
	}
	if e.DocumentID == nil || *e.DocumentID != p.ID {
		t.Errorf("DocumentID = %v, want %s", e.DocumentID, p.ID)
	}
	if e.TenantID == nil || *e.TenantID != tenantA {
		t.Errorf("TenantID = %v", e.TenantID)
	}
	if e.Before != nil {
		t.Errorf("Before = %s, want nil", e.Before)
	}
	if e.ActorID != adminA.ID || e.IP != adminA.IP || e.UserAgent != adminA.UserAgent {
		t.Errorf("actor context not carried: %+v", e)
	}

	var after map[string]any
	if err := json.Unmarshal(e.After, &after); err != nil {
		t.Fatalf("After is not JSON: %v", err)
	}
	if after["national_id"] != "***.***.8900" {
		t.Errorf("national_id = %v", after["national_id"])
	}
	if after["phone"] != "(**) *****-4321" {
		t.Errorf("phone = %v", after["phone"])
	}
	if after["email"] != "m***@example.com" {
		t.Errorf("email = %v", after["email"])
	}
	raw := string(e.After)
	for _, secret := range []string{"12345678900", "98765", "maria.silva@", "Rua das Flores", "1985-03-14"} {
		if strings.Contains(raw, secret) {
			t.Errorf("snapshot leaks %q: %s", secret, raw)
		}
	}
}

func TestGet_TenantIsolation(t *testing.T) {
	f := newFixture(t)
	p := mustCreate(t, f, adminA, validInput())

	if _, err := f.svc.Get(context.Background(), adminB, p.ID, ViewOptions{}); !errors.Is(err, apperr.ErrTenantMismatch) {
		t.Errorf("expected ErrTenantMismatch, got %v", err)
	}
	if _, err := f.svc.Get(context.Background(), adminA, uuid.New(), ViewOptions{}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	got, err := f.svc.Get(context.Background(), operator, p.ID, ViewOptions{})
	if err != nil {
		t.Fatalf("operator get: %v", err)
	}
	if got.Name != "Maria da Silva" || got.Address != "Rua das Flores, 123" {
		t.Errorf("unexpected decode %+v", got)
	}
}

func TestGet_AuditOnlyWhenRequested(t *testing.T) {
	f := newFixture(t)
	p := mustCreate(t, f, adminA, validInput())

	if _, err := f.svc.Get(context.Background(), adminA, p.ID, ViewOptions{}); err != nil {
		t.Fatalf("get: %v", err)
	}
	if n := len(f.entries()); n != 1 {
		t.Fatalf("plain read should not be audited, got %d entries", n)
	}

	if _, err := f.svc.Get(context.Background(), adminA, p.ID, ViewOptions{Audit: true}); err != nil {
		t.Fatalf("get: %v", err)
	}
	entries := f.entries()
	if len(entries) != 2 || entries[1].Action != hipaa.ActionView {
		t.Fatalf("expected a view entry, got %d entries", len(entries))
	}
	if entries[1].Before != nil || entries[1].After != nil {
		t.Error("view entries carry no snapshots")
	}
}

func TestGet_DecodeFallback(t *testing.T) {
	f := newFixture(t)
	p := mustCreate(t, f, adminA, validInput())

	d, _ := f.store.Get(context.Background(), p.ID)
	other := newFixture(t)
	foreign, _ := other.cipher.Encode("Someone Else")
	d.Name = foreign
	d.Address = "Legacy Street, 1"
	f.store.docs[d.ID] = *d

	got, err := f.svc.Get(context.Background(), adminA, p.ID, ViewOptions{})
	if err != nil {
		t.Fatalf("get must not fail on a bad field: %v", err)
	}
	if got.Name != "" {
		t.Errorf("Name = %q, want empty fallback", got.Name)
	}
	if got.Address != "Legacy Street, 1" {
		t.Errorf("Address = %q, want legacy passthrough", got.Address)
	}
	if got.NationalID != "12345678900" {
		t.Errorf("other fields must still decode, NationalID = %q", got.NationalID)
	}
}

func seedList(t *testing.T, f *fixture) {
	t.Helper()
	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	people := []struct {
		name, nid, email string
		tenant           uuid.UUID
	}{
		{"carla mendes", "11111111111", "carla@clinic.com", tenantA},
		{"Bruno Alves", "22222222222", "bruno@lab.org", tenantA},
		{"ana Souza", "33333333333", "ana@clinic.com", tenantA},
		{"Bruno Alves", "44444444444", "", tenantA},
		{"Diego Rocha", "55555555555", "diego@clinic.com", tenantB},
	}
	for i, pp := range people {
		i := i
		f.svc.now = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		in := validInput()
		in.Name, in.NationalID, in.Email, in.TenantID = pp.name, pp.nid, pp.email, pp.tenant
		mustCreate(t, f, operator, in)
	}
}

func names(ps []*Patient) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name + "/" + p.NationalID[:1]
	}
	return out
}

func TestList_DefaultOrderAndIsolation(t *testing.T) {
	f := newFixture(t)
	seedList(t, f)

	page, err := f.svc.List(context.Background(), adminA, ListQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"ana Souza/3", "Bruno Alves/4", "Bruno Alves/2", "carla mendes/1"}
	if got := names(page.Items); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", got, want)
	}
	if page.Total != 4 {
		t.Errorf("Total = %d", page.Total)
	}
}

func TestList_FiltersAndPagination(t *testing.T) {
	f := newFixture(t)
	seedList(t, f)

	cases := []struct {
		name  string
		q     ListQuery
		total int
	}{
		{"name substring", ListQuery{Name: "BRUNO"}, 2},
		{"national id formatted", ListQuery{NationalID: "333.333"}, 1},
		{"email", ListQuery{Email: "@clinic.com"}, 2},
		{"birth date in any layout", ListQuery{BirthDate: "14/03/1985"}, 4},
		{"birth date mismatch", ListQuery{BirthDate: "2000-01-01"}, 0},
		{"narrowed to foreign tenant", ListQuery{TenantIDs: []uuid.UUID{tenantB}}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page, err := f.svc.List(context.Background(), adminA, tc.q)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if page.Total != tc.total || len(page.Items) != tc.total {
				t.Errorf("Total = %d, items = %d, want %d", page.Total, len(page.Items), tc.total)
			}
		})
	}

	t.Run("pagination after filtering", func(t *testing.T) {
		page, err := f.svc.List(context.Background(), operator, ListQuery{Page: 2, PageSize: 2})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if page.Total != 5 || len(page.Items) != 2 || page.Page != 2 {
			t.Fatalf("unexpected page %+v", page)
		}
		if page.Items[0].Name != "Bruno Alves" || page.Items[1].Name != "carla mendes" {
			t.Errorf("page 2 = %v", names(page.Items))
		}
	})
}

func TestList_SortOptions(t *testing.T) {
	f := newFixture(t)
	seedList(t, f)

	page, err := f.svc.List(context.Background(), adminA, ListQuery{Sort: "createdAt", Order: "desc"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := "Bruno Alves/4,ana Souza/3,Bruno Alves/2,carla mendes/1"
	if got := strings.Join(names(page.Items), ","); got != want {
		t.Errorf("createdAt desc = %s", got)
	}

	page, err = f.svc.List(context.Background(), adminA, ListQuery{Sort: "name", Order: "desc"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want = "carla mendes/1,Bruno Alves/4,Bruno Alves/2,ana Souza/3"
	if got := strings.Join(names(page.Items), ","); got != want {
		t.Errorf("name desc = %s", got)
	}

	for _, q := range []ListQuery{{Sort: "ssn"}, {Order: "sideways"}, {NationalID: "abc"}} {
		if _, err := f.svc.List(context.Background(), adminA, q); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("%+v: expected ErrValidation, got %v", q, err)
		}
	}
}

func TestList_NoAccessIsEmpty(t *testing.T) {
	f := newFixture(t)
	seedList(t, f)

	page, err := f.svc.List(context.Background(), actorOf(auth.RoleDoctor, tenant.None{}), ListQuery{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if page.Total != 0 || len(page.Items) != 0 {
		t.Errorf("expected empty page, got %+v", page)
	}
}

func TestList_AuditOptIn(t *testing.T) {
	cases := []struct {
		name   string
		actor  auth.Actor
		audit  bool
		views  int
		tenant *uuid.UUID
	}{
		{"plain list records nothing", adminA, false, 0, nil},
		{"single tenant scope", adminA, true, 1, &tenantA},
		{"unrestricted scope", operator, true, 1, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			seedList(t, f)

			if _, err := f.svc.List(context.Background(), tc.actor, ListQuery{Audit: tc.audit}); err != nil {
				t.Fatalf("list: %v", err)
			}
			var views []*hipaa.AuditEntry
			for _, e := range f.entries() {
				if e.Action == hipaa.ActionView {
					views = append(views, e)
				}
			}
			if len(views) != tc.views {
				t.Fatalf("view entries = %d, want %d", len(views), tc.views)
			}
			if tc.views == 0 {
				return
			}
			v := views[0]
			if v.DocumentID != nil {
				t.Errorf("DocumentID = %v, want nil", *v.DocumentID)
			}
			if (v.TenantID == nil) != (tc.tenant == nil) || (v.TenantID != nil && *v.TenantID != *tc.tenant) {
				t.Errorf("TenantID = %v, want %v", v.TenantID, tc.tenant)
			}
			if v.CollectionName != collection || v.ActorID != tc.actor.ID || v.IP != tc.actor.IP {
				t.Errorf("unexpected entry %+v", v)
			}
		})
	}
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	p := mustCreate(t, f, adminA, validInput())
	other := validInput()
	other.NationalID = "98765432100"
	mustCreate(t, f, adminA, other)

	t.Run("keeps own national id", func(t *testing.T) {
		name := "Maria S. Costa"
		got, err := f.svc.Update(context.Background(), adminA, p.ID, Changes{Name: &name})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if got.Name != name || got.NationalID != "12345678900" || !got.CreatedAt.Equal(p.CreatedAt) {
			t.Errorf("unexpected record %+v", got)
		}
	})

	t.Run("duplicate national id", func(t *testing.T) {
		nid := "987.654.321-00"
		_, err := f.svc.Update(context.Background(), adminA, p.ID, Changes{NationalID: &nid})
		if !errors.Is(err, apperr.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}
	})

	t.Run("foreign tenant", func(t *testing.T) {
		name := "x"
		_, err := f.svc.Update(context.Background(), adminB, p.ID, Changes{Name: &name})
		if !errors.Is(err, apperr.ErrTenantMismatch) {
			t.Fatalf("expected ErrTenantMismatch, got %v", err)
		}
	})

	last := entryFor(t, f.entries(), hipaa.ActionUpdate)
	if last.Before == nil || last.After == nil {
		t.Fatalf("expected update entry with both snapshots, got %+v", last)
	}
	if !strings.Contains(string(last.Before), "Maria da Silva") || !strings.Contains(string(last.After), "Maria S. Costa") {
		t.Errorf("snapshots do not reflect the change: %s -> %s", last.Before, last.After)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	p := mustCreate(t, f, adminA, validInput())

	if err := f.svc.Delete(context.Background(), adminB, p.ID); !errors.Is(err, apperr.ErrTenantMismatch) {
		t.Fatalf("expected ErrTenantMismatch, got %v", err)
	}
	if err := f.svc.Delete(context.Background(), adminA, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.svc.Get(context.Background(), adminA, p.ID, ViewOptions{}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	last := entryFor(t, f.entries(), hipaa.ActionDelete)
	if last.Before == nil || last.After != nil {
		t.Errorf("unexpected delete entry %+v", last)
	}
}

func TestDirectory(t *testing.T) {
	f := newFixture(t)
	p := mustCreate(t, f, adminA, validInput())

	ok, err := f.svc.Exists(context.Background(), tenantA, p.ID)
	if err != nil || !ok {
		t.Errorf("Exists(tenantA) = %v, %v", ok, err)
	}
	ok, err = f.svc.Exists(context.Background(), tenantB, p.ID)
	if err != nil || ok {
		t.Errorf("Exists(tenantB) = %v, %v", ok, err)
	}
	ok, err = f.svc.Exists(context.Background(), tenantA, uuid.New())
	if err != nil || ok {
		t.Errorf("Exists(unknown) = %v, %v", ok, err)
	}

	got, err := f.svc.Names(context.Background(), tenant.Of(tenantA))
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if got[p.ID] != "Maria da Silva" {
		t.Errorf("Names = %v", got)
	}
}
