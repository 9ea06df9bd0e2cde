package hipaa

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hengadev/errsx"
	"github.com/labstack/echo/v4"

	"github.com/ecgvault/ecgvault/internal/platform/apperr"
	"github.com/ecgvault/ecgvault/internal/platform/auth"
	"github.com/ecgvault/ecgvault/internal/platform/tenant"
	"github.com/ecgvault/ecgvault/pkg/pagination"
)

// AuditHandler serves read access to the trail. Exports are themselves
// recorded as export entries.
type AuditHandler struct {
	recorder *AuditRecorder
}

func NewAuditHandler(recorder *AuditRecorder) *AuditHandler {
	return &AuditHandler{recorder: recorder}
}

func (h *AuditHandler) RegisterRoutes(g *echo.Group) {
	read := g.Group("/audit", auth.RequireRole(auth.RoleTenantAdmin))
	read.GET("", h.HandleSearch)
	read.GET("/export/:format", h.HandleExport)
}

// parseAuditQuery extracts an AuditQuery scoped to the calling actor.
func parseAuditQuery(c echo.Context, actor auth.Actor) (AuditQuery, error) {
	p := pagination.FromContext(c)
	q := AuditQuery{
		ActorID:        c.QueryParam("actor_id"),
		Action:         AuditAction(c.QueryParam("action")),
		CollectionName: c.QueryParam("collection"),
		Page:           p.Page,
		PageSize:       p.PageSize,
	}

	var errs errsx.Map
	if q.Action != "" && !q.Action.Valid() {
		errs.Set("action", fmt.Sprintf("unknown action %q", q.Action))
	}
	if v := c.QueryParam("document_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			errs.Set("document_id", "invalid document id")
		} else {
			q.DocumentID = &id
		}
	}
	filter, err := tenant.ParseFilter(c.QueryParams()["tenant_id"])
	if err != nil {
		errs.Set("tenant_id", "invalid tenant reference")
	}
	for name, dst := range map[string]**time.Time{"from": &q.From, "to": &q.To} {
		v := c.QueryParam(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			errs.Set(name, "expected RFC3339 timestamp")
			continue
		}
		*dst = &t
	}
	if err := apperr.NewValidationError(errs); err != nil {
		return q, err
	}

	q.Scope = tenant.ScopeFor(actor, filter)
	return q, nil
}

// HandleSearch handles GET /audit.
func (h *AuditHandler) HandleSearch(c echo.Context) error {
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	q, err := parseAuditQuery(c, actor)
	if err != nil {
		return apperr.EchoError(err)
	}
	page, err := h.recorder.Query(c.Request().Context(), q)
	if err != nil {
		return apperr.EchoError(err)
	}
	return c.JSON(http.StatusOK, page)
}

var exportFormats = map[string]struct {
	contentType string
	write       func(c echo.Context, store AuditStore, q AuditQuery) error
}{
	"csv": {"text/csv", func(c echo.Context, s AuditStore, q AuditQuery) error {
		return ExportCSV(c.Request().Context(), s, q, c.Response())
	}},
	"json": {"application/json", func(c echo.Context, s AuditStore, q AuditQuery) error {
		return ExportJSON(c.Request().Context(), s, q, c.Response())
	}},
	"xlsx": {"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", func(c echo.Context, s AuditStore, q AuditQuery) error {
		return ExportXLSX(c.Request().Context(), s, q, c.Response())
	}},
}

// HandleExport handles GET /audit/export/:format for csv, json and xlsx.
func (h *AuditHandler) HandleExport(c echo.Context) error {
	format := c.Param("format")
	exp, ok := exportFormats[format]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("unsupported export format %q", format))
	}

	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	q, err := parseAuditQuery(c, actor)
	if err != nil {
		return apperr.EchoError(err)
	}

	c.Response().Header().Set(echo.HeaderContentType, exp.contentType)
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=\"audit_export_%s.%s\"", time.Now().UTC().Format("20060102_150405"), format))
	c.Response().WriteHeader(http.StatusOK)

	if err := exp.write(c, h.recorder.store, q); err != nil {
		return err
	}

	entry := AuditEntry{
		ActorID:        actor.ID,
		Action:         ActionExport,
		Description:    fmt.Sprintf("audit trail exported as %s", format),
		CollectionName: "audit_logs",
		IP:             actor.IP,
		UserAgent:      actor.UserAgent,
	}
	if id, ok := q.Scope.Single(); ok {
		entry.TenantID = &id
	}
	h.recorder.Record(c.Request().Context(), entry)
	return nil
}
