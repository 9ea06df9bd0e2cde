package patient

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
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
	// Read endpoints: every clinical role
	readGroup := api.Group("", auth.RequireRole(auth.RoleTenantAdmin, auth.RoleDoctor, auth.RoleTechnician))
	readGroup.GET("/patients", h.ListPatients)
	readGroup.GET("/patients/:id", h.GetPatient)

	// Write endpoints: admin, technician
	writeGroup := api.Group("", auth.RequireRole(auth.RoleTenantAdmin, auth.RoleTechnician))
	writeGroup.POST("/patients", h.CreatePatient)
	writeGroup.PUT("/patients/:id", h.UpdatePatient)

	adminGroup := api.Group("", auth.RequireRole(auth.RoleTenantAdmin))
	adminGroup.DELETE("/patients/:id", h.DeletePatient)
}

type createRequest struct {
	Name       string `json:"name"`
	NationalID string `json:"national_id"`
	BirthDate  string `json:"birth_date"`
	Address    string `json:"address"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	TenantID   string `json:"tenant_id"`
}

type updateRequest struct {
	Name       *string `json:"name"`
	NationalID *string `json:"national_id"`
	BirthDate  *string `json:"birth_date"`
	Address    *string `json:"address"`
	Phone      *string `json:"phone"`
	Email      *string `json:"email"`
}

func (h *Handler) CreatePatient(c echo.Context) error {
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	in := Input{
		Name:       req.Name,
		NationalID: req.NationalID,
		BirthDate:  req.BirthDate,
		Address:    req.Address,
		Phone:      req.Phone,
		Email:      req.Email,
	}
	if req.TenantID != "" {
		ids, err := tenant.ParseFilter([]string{req.TenantID})
		if err != nil {
			return apperr.EchoError(err)
		}
		in.TenantID = ids[0]
	}

	p, err := h.svc.Create(c.Request().Context(), actor, in)
	if err != nil {
		return apperr.EchoError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	audit, _ := strconv.ParseBool(c.QueryParam("audit"))

	p, err := h.svc.Get(c.Request().Context(), actor, id, ViewOptions{Audit: audit})
	if err != nil {
		return apperr.EchoError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	filter, err := tenant.ParseFilter(c.QueryParams()["tenant_id"])
	if err != nil {
		return apperr.EchoError(err)
	}
	pg := pagination.FromContext(c)

	audit, _ := strconv.ParseBool(c.QueryParam("audit"))
	page, err := h.svc.List(c.Request().Context(), actor, ListQuery{
		TenantIDs:  filter,
		Name:       c.QueryParam("name"),
		NationalID: c.QueryParam("national_id"),
		Email:      c.QueryParam("email"),
		BirthDate:  c.QueryParam("birth_date"),
		Sort:       c.QueryParam("sort"),
		Order:      c.QueryParam("order"),
		Page:       pg.Page,
		PageSize:   pg.PageSize,
		Audit:      audit,
	})
	if err != nil {
		return apperr.EchoError(err)
	}
	return c.JSON(http.StatusOK, page)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
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

	p, err := h.svc.Update(c.Request().Context(), actor, id, Changes(req))
	if err != nil {
		return apperr.EchoError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePatient(c echo.Context) error {
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
