package exam

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hengadev/errsx"
	"github.com/labstack/echo/v4"

	"github.com/ecgvault/ecgvault/internal/platform/apperr"
	"github.com/ecgvault/ecgvault/internal/platform/auth"
	"github.com/ecgvault/ecgvault/internal/platform/tenant"
	"github.com/ecgvault/ecgvault/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RoleTenantAdmin, auth.RoleDoctor, auth.RoleTechnician))
	readGroup.GET("/exams", h.ListExams)
	readGroup.GET("/exams/:id", h.GetExam)

	writeGroup := api.Group("", auth.RequireRole(auth.RoleTenantAdmin, auth.RoleTechnician))
	writeGroup.POST("/exams", h.CreateExam)
	writeGroup.PUT("/exams/:id", h.UpdateExam)

	reportGroup := api.Group("", auth.RequireRole(auth.RoleTenantAdmin, auth.RoleDoctor))
	reportGroup.POST("/exams/:id/report", h.IssueReport)

	adminGroup := api.Group("", auth.RequireRole(auth.RoleTenantAdmin))
	adminGroup.DELETE("/exams/:id", h.DeleteExam)
}

type createRequest struct {
	PatientID     string    `json:"patient_id"`
	ExamTypeID    string    `json:"exam_type_id"`
	TechnicianID  string    `json:"technician_id"`
	TenantID      string    `json:"tenant_id"`
	FileReference string    `json:"file_reference"`
	FileKey       string    `json:"file_key"`
	ExamDate      time.Time `json:"exam_date"`
	Measurements
}

type updateRequest struct {
	ExamTypeID    *string    `json:"exam_type_id"`
	TechnicianID  *string    `json:"technician_id"`
	FileReference *string    `json:"file_reference"`
	FileKey       *string    `json:"file_key"`
	Status        *string    `json:"status"`
	ExamDate      *time.Time `json:"exam_date"`
	Measurements
}

// ids parses uuid fields, collecting one error per bad field.
type ids struct {
	errs errsx.Map
}

func (p *ids) required(field, v string) uuid.UUID {
	id, err := uuid.Parse(v)
	if err != nil {
		p.errs.Set(field, "invalid id")
	}
	return id
}

func (p *ids) optional(field, v string) uuid.UUID {
	if v == "" {
		return uuid.Nil
	}
	return p.required(field, v)
}

func (p *ids) query(c echo.Context, field string) *uuid.UUID {
	v := c.QueryParam(field)
	if v == "" {
		return nil
	}
	id := p.required(field, v)
	return &id
}

func (p *ids) err() error {
	return apperr.NewValidationError(p.errs)
}

func (h *Handler) CreateExam(c echo.Context) error {
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var p ids
	in := Input{
		PatientID:     p.required("patient_id", req.PatientID),
		ExamTypeID:    p.required("exam_type_id", req.ExamTypeID),
		TechnicianID:  p.required("technician_id", req.TechnicianID),
		TenantID:      p.optional("tenant_id", req.TenantID),
		FileReference: req.FileReference,
		FileKey:       req.FileKey,
		ExamDate:      req.ExamDate,
		Measurements:  req.Measurements,
	}
	if err := p.err(); err != nil {
		return apperr.EchoError(err)
	}

	e, err := h.svc.Create(c.Request().Context(), actor, in)
	if err != nil {
		return apperr.EchoError(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) GetExam(c echo.Context) error {
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	audit, _ := strconv.ParseBool(c.QueryParam("audit"))

	e, err := h.svc.Get(c.Request().Context(), actor, id, ViewOptions{Audit: audit})
	if err != nil {
		return apperr.EchoError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) ListExams(c echo.Context) error {
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	filter, err := tenant.ParseFilter(c.QueryParams()["tenant_id"])
	if err != nil {
		return apperr.EchoError(err)
	}

	var p ids
	pg := pagination.FromContext(c)
	q := ListQuery{
		TenantIDs:    filter,
		Status:       c.QueryParam("status"),
		PatientName:  c.QueryParam("patient_name"),
		ExamTypeID:   p.query(c, "exam_type_id"),
		PatientID:    p.query(c, "patient_id"),
		TechnicianID: p.query(c, "technician_id"),
		Page:         pg.Page,
		PageSize:     pg.PageSize,
	}
	q.Audit, _ = strconv.ParseBool(c.QueryParam("audit"))
	for name, dst := range map[string]**time.Time{"from": &q.From, "to": &q.To} {
		v := c.QueryParam(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			p.errs.Set(name, "expected RFC3339 timestamp")
			continue
		}
		*dst = &t
	}
	if err := p.err(); err != nil {
		return apperr.EchoError(err)
	}

	page, err := h.svc.List(c.Request().Context(), actor, q)
	if err != nil {
		return apperr.EchoError(err)
	}
	return c.JSON(http.StatusOK, page)
}

func (h *Handler) UpdateExam(c echo.Context) error {
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var p ids
	ch := Changes{
		FileReference: req.FileReference,
		FileKey:       req.FileKey,
		ExamDate:      req.ExamDate,
		Measurements:  req.Measurements,
	}
	if req.ExamTypeID != nil {
		v := p.required("exam_type_id", *req.ExamTypeID)
		ch.ExamTypeID = &v
	}
	if req.TechnicianID != nil {
		v := p.required("technician_id", *req.TechnicianID)
		ch.TechnicianID = &v
	}
	if req.Status != nil {
		st, ok := ParseStatus(*req.Status)
		if !ok {
			p.errs.Set("status", "unknown status")
		}
		ch.Status = &st
	}
	if err := p.err(); err != nil {
		return apperr.EchoError(err)
	}

	e, err := h.svc.Update(c.Request().Context(), actor, id, ch)
	if err != nil {
		return apperr.EchoError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) IssueReport(c echo.Context) error {
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.svc.IssueReport(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.EchoError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) DeleteExam(c echo.Context) error {
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), actor, id); err != nil {
		return apperr.EchoError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
