package patient

import (
	"context"
	"strings"

	"github.com/renalsim/renalsim/internal/platform/reporting"
)

var rosterHeaders = []string{
	"MRN", "Name", "Age", "Sex", "Diagnosis", "Access", "Risk Level",
	"Mortality 30d %", "Mortality 90d %", "Mortality 1yr %",
	"Hospitalization 30d %", "Top Risk Factor", "Alerts", "Last Updated",
}

// RosterWorkbook exports the roster with formula risk and alerts.
func (s *Service) RosterWorkbook(ctx context.Context) ([]byte, error) {
	patients, err := s.ListPatients(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([][]any, 0, len(patients))
	for _, p := range patients {
		alerts := make([]string, 0, len(p.Alerts))
		for _, a := range p.Alerts {
			alerts = append(alerts, a.Description)
		}
		rows = append(rows, []any{
			p.ID, p.Name, p.Age, p.Sex, p.PrimaryDiagnosis, p.AccessType, string(p.RiskLevel),
			p.MortalityRisk.D30, p.MortalityRisk.D90, p.MortalityRisk.Y1,
			p.HospitalizationRisk.D30, p.TopRiskFactor, strings.Join(alerts, "; "),
			p.LastUpdated.Format(dateLayout),
		})
	}
	return reporting.Workbook("Roster", rosterHeaders, rows)
}
