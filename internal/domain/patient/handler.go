package patient

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/renalsim/renalsim/internal/platform/auth"
	"github.com/renalsim/renalsim/internal/platform/middleware"
	"github.com/renalsim/renalsim/internal/platform/reporting"
	"github.com/renalsim/renalsim/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleClinician, auth.RoleViewer))
	read.GET("/patients", h.ListPatients)
	read.GET("/patients/:id", h.GetPatient)
	read.GET("/patients/:id/sessions", h.ListSessions)
	read.GET("/patients/:id/labs/:marker", h.GetLabTrend)
	read.GET("/patients/:id/labs/:marker/chart", h.GetLabChart)

	export := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleClinician))
	export.GET("/reports/roster.xlsx", h.ExportRoster)
}

func (h *Handler) ListPatients(c echo.Context) error {
	patients, err := h.svc.ListPatients(c.Request().Context())
	if err != nil {
		return &middleware.DetailedError{Code: http.StatusInternalServerError, Message: "Failed to fetch patients", Details: err.Error()}
	}
	return c.JSON(http.StatusOK, patients)
}

func (h *Handler) GetPatient(c echo.Context) error {
	detail, err := h.svc.GetPatientDetails(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Patient not found")
		}
		return &middleware.DetailedError{Code: http.StatusInternalServerError, Message: "Failed to fetch patient details", Details: err.Error()}
	}
	return c.JSON(http.StatusOK, detail)
}

func (h *Handler) ListSessions(c echo.Context) error {
	pg := pagination.FromContext(c)
	sessions, total, err := h.svc.ListSessions(c.Request().Context(), c.Param("id"), pg.Limit, pg.Offset)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Patient not found")
		}
		return &middleware.DetailedError{Code: http.StatusInternalServerError, Message: "Failed to fetch sessions", Details: err.Error()}
	}
	if link := pg.LinkHeader(c.Request().URL.Path, total); link != "" {
		c.Response().Header().Set("Link", link)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(sessions, total, pg))
}

func (h *Handler) GetLabTrend(c echo.Context) error {
	trend, err := h.svc.LabTrend(c.Request().Context(), c.Param("id"), c.Param("marker"))
	if err != nil {
		return labError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"name":      trend.Target.Name,
		"unit":      trend.Target.Unit,
		"targetMin": trend.Target.Min,
		"targetMax": trend.Target.Max,
		"dates":     trend.Dates,
		"values":    trend.Values,
	})
}

func (h *Handler) GetLabChart(c echo.Context) error {
	var buf bytes.Buffer
	if err := h.svc.RenderLabChart(c.Request().Context(), c.Param("id"), c.Param("marker"), &buf); err != nil {
		return labError(err)
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

func (h *Handler) ExportRoster(c echo.Context) error {
	data, err := h.svc.RosterWorkbook(c.Request().Context())
	if err != nil {
		return &middleware.DetailedError{Code: http.StatusInternalServerError, Message: "Failed to export roster", Details: err.Error()}
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename=roster.xlsx")
	return c.Blob(http.StatusOK, reporting.MIMEXLSX, data)
}

func labError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Patient not found")
	case errors.Is(err, ErrUnknownMarker):
		return echo.NewHTTPError(http.StatusNotFound, "Unknown lab marker")
	default:
		return &middleware.DetailedError{Code: http.StatusInternalServerError, Message: "Failed to fetch lab history", Details: err.Error()}
	}
}
