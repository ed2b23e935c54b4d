package copilot

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/renalsim/renalsim/internal/domain/riskmodel"
	"github.com/renalsim/renalsim/internal/platform/auth"
	"github.com/renalsim/renalsim/internal/platform/llm"
	"github.com/renalsim/renalsim/internal/platform/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleClinician, auth.RoleViewer))
	read.GET("/levers", h.ListLevers)
	read.POST("/levers/apply", h.ApplyLevers)

	clinical := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleClinician))
	clinical.POST("/chat", h.Chat)
	clinical.POST("/chat/predict", h.Predict)
}

type chatRequest struct {
	Message string          `json:"message"`
	Context *PatientContext `json:"context"`
}

type chatResponse struct {
	Response string `json:"response"`
}

func (h *Handler) Chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	answer, err := h.svc.Chat(c.Request().Context(), req.Message, req.Context)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, chatResponse{Response: answer})
	case errors.Is(err, llm.ErrNotConfigured):
		return echo.NewHTTPError(http.StatusInternalServerError, "API Key not configured")
	case errors.Is(err, ErrEmptyMessage):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch response from AI")
	}
}

type predictRequest struct {
	Patient      PatientContext       `json:"patient"`
	ActiveLevers riskmodel.LeverState `json:"activeLevers"`
}

// Predict returns the predicted risk, or null when the model could not
// produce one so the caller falls back to the deterministic deltas.
func (h *Handler) Predict(c echo.Context) error {
	var req predictRequest
	if err := c.Bind(&req); err != nil {
		return &middleware.DetailedError{Code: http.StatusBadRequest, Message: "Failed to predict impact", Details: err.Error()}
	}
	p, err := h.svc.PredictInterventionImpact(c.Request().Context(), req.Patient, req.ActiveLevers)
	if err != nil {
		return c.JSON(http.StatusOK, nil)
	}
	return c.JSON(http.StatusOK, p)
}

type leverCatalogResponse struct {
	Levers   []riskmodel.LeverInfo    `json:"levers"`
	Defaults riskmodel.LeverState     `json:"defaults"`
	Baseline riskmodel.MediatorScores `json:"baseline"`
}

func (h *Handler) ListLevers(c echo.Context) error {
	m := h.svc.Model()
	return c.JSON(http.StatusOK, leverCatalogResponse{
		Levers:   riskmodel.Catalog(),
		Defaults: m.Levers,
		Baseline: m.Baseline,
	})
}

type applyRequest struct {
	Levers     *riskmodel.LeverState `json:"levers"`
	AccessType string                `json:"accessType"`
}

// ApplyLevers evaluates a lever configuration without calling the model.
// Omitted levers start from the defaults.
func (h *Handler) ApplyLevers(c echo.Context) error {
	var req applyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m := h.svc.Model()
	levers := m.Levers
	if req.Levers != nil {
		levers = *req.Levers
	}
	return c.JSON(http.StatusOK, m.Evaluate(levers, riskmodel.IsCatheterAccess(req.AccessType)))
}
