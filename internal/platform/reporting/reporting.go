package reporting

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/renalsim/renalsim/internal/platform/auth"
	"github.com/renalsim/renalsim/internal/platform/db"
)

// Parameter is an integer query parameter bound positionally into a measure.
type Parameter struct {
	Name    string `json:"name"`
	Default int    `json:"default"`
}

// MeasureDefinition defines a reporting measure with its SQL query.
type MeasureDefinition struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	SQL         string      `json:"sql"`
	Parameters  []Parameter `json:"parameters"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	Columns     []string                 `json:"columns"`
	Results     []map[string]interface{} `json:"results"`
	Parameters  map[string]int           `json:"parameters,omitempty"`
}

// PredefinedMeasures is the list of available reporting measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "patients-by-access",
		Name:        "Patients by Access Type",
		Description: "Active patients grouped by the type of their primary vascular access",
		SQL: `SELECT COALESCE(va.access_type, 'Unknown') AS access_type, COUNT(*) AS total
			FROM patients p
			LEFT JOIN LATERAL (
				SELECT access_type FROM vascular_access v
				WHERE v.patient_id = p.patient_id ORDER BY v.access_id LIMIT 1
			) va ON TRUE
			WHERE p.active
			GROUP BY 1 ORDER BY total DESC, access_type`,
		Parameters: []Parameter{},
	},
	{
		ID:          "idh-session-rate",
		Name:        "Intradialytic Hypotension Rate",
		Description: "Share of sessions with intradialytic hypotension over the last N days",
		SQL: `SELECT COUNT(*) AS sessions,
				COUNT(*) FILTER (WHERE intradialytic_hypotension) AS idh_sessions,
				COALESCE(ROUND(100.0 * COUNT(*) FILTER (WHERE intradialytic_hypotension) / NULLIF(COUNT(*), 0), 1), 0)::float8 AS idh_rate_percent
			FROM dialysis_sessions
			WHERE session_date >= CURRENT_DATE - $1::int`,
		Parameters: []Parameter{{Name: "days", Default: 365}},
	},
	{
		ID:          "latest-albumin-distribution",
		Name:        "Latest Albumin Distribution",
		Description: "Patients banded by their most recent serum albumin",
		SQL: `WITH latest AS (
				SELECT DISTINCT ON (patient_id) patient_id, albumin
				FROM lab_results WHERE albumin IS NOT NULL
				ORDER BY patient_id, test_date DESC, lab_id DESC
			)
			SELECT CASE
					WHEN albumin < 3.0 THEN '<3.0'
					WHEN albumin < 3.5 THEN '3.0-3.4'
					ELSE '>=3.5'
				END AS band,
				COUNT(*) AS patients
			FROM latest GROUP BY 1 ORDER BY 1`,
		Parameters: []Parameter{},
	},
	{
		ID:          "active-medications-by-category",
		Name:        "Active Medications by Category",
		Description: "Count of active prescriptions by drug category",
		SQL: `SELECT COALESCE(category, 'Uncategorized') AS category, COUNT(*) AS total
			FROM medications WHERE active
			GROUP BY 1 ORDER BY total DESC, category`,
		Parameters: []Parameter{},
	},
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	q db.Querier
}

// NewHandler creates a new reporting handler.
func NewHandler(q db.Querier) *Handler {
	return &Handler{q: q}
}

// RegisterRoutes registers the reporting API routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	reportGroup := api.Group("/reports", auth.RequireRole(auth.RoleAdmin, auth.RoleClinician))
	reportGroup.GET("/measures", h.ListMeasures)
	reportGroup.GET("/measures/:id/evaluate", h.EvaluateMeasure)
	reportGroup.GET("/measures/:id/export.xlsx", h.ExportMeasure)
}

// ListMeasures returns all available measure definitions.
func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure executes a measure's SQL and returns the results.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	report, err := h.evaluate(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// ExportMeasure returns the evaluated measure as a spreadsheet.
func (h *Handler) ExportMeasure(c echo.Context) error {
	report, err := h.evaluate(c)
	if err != nil {
		return err
	}
	data, err := Workbook(report.MeasureName, report.Columns, report.Rows())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("export failed: %v", err))
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%s.xlsx", report.MeasureID))
	return c.Blob(http.StatusOK, MIMEXLSX, data)
}

func (h *Handler) evaluate(c echo.Context) (*MeasureReport, error) {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}

	params, err := BindParameters(measure, c.QueryParam)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	report, err := Evaluate(c.Request().Context(), h.q, measure, params)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
	}
	return report, nil
}

// BindParameters reads a measure's parameters through get, applying defaults.
func BindParameters(m *MeasureDefinition, get func(string) string) (map[string]int, error) {
	params := make(map[string]int, len(m.Parameters))
	for _, p := range m.Parameters {
		params[p.Name] = p.Default
		raw := get(p.Name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("parameter %s must be a non-negative integer", p.Name)
		}
		params[p.Name] = v
	}
	return params, nil
}

// Evaluate runs a measure with its parameters bound in declaration order.
func Evaluate(ctx context.Context, q db.Querier, m *MeasureDefinition, params map[string]int) (*MeasureReport, error) {
	args := make([]any, 0, len(m.Parameters))
	for _, p := range m.Parameters {
		args = append(args, params[p.Name])
	}

	columns, results, err := executeSQL(ctx, q, m.SQL, args...)
	if err != nil {
		return nil, err
	}
	report := &MeasureReport{
		MeasureID:   m.ID,
		MeasureName: m.Name,
		GeneratedAt: time.Now().UTC(),
		Columns:     columns,
		Results:     results,
	}
	if len(params) > 0 {
		report.Parameters = params
	}
	return report, nil
}

// Rows returns the results as positional rows in column order.
func (r *MeasureReport) Rows() [][]any {
	out := make([][]any, 0, len(r.Results))
	for _, res := range r.Results {
		row := make([]any, len(r.Columns))
		for i, col := range r.Columns {
			row[i] = res[col]
		}
		out = append(out, row)
	}
	return out
}

// executeSQL runs a SQL query and returns its columns and rows as maps.
func executeSQL(ctx context.Context, q db.Querier, sql string, args ...any) ([]string, []map[string]interface{}, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = fd.Name
	}

	results := []map[string]interface{}{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, nil, err
		}

		row := make(map[string]interface{}, len(fieldDescs))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, results, nil
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}
