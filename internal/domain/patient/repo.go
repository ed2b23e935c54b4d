package patient

import (
	"context"
)

// Repository reads the dialysis chart. Methods taking an MRN return
// ErrNotFound when no such patient exists.
type Repository interface {
	ListSummaries(ctx context.Context) ([]*SummaryRecord, error)
	GetDetail(ctx context.Context, mrn string) (*DetailRecord, error)
	ListSessions(ctx context.Context, mrn string, limit, offset int) (*SessionPage, error)
	// LabHistory returns panels oldest first.
	LabHistory(ctx context.Context, mrn string, limit int) ([]LabResult, error)
}

// SeedPatient is a patient with the history loaded alongside it.
type SeedPatient struct {
	Patient     Patient
	Access      VascularAccess
	Sessions    []DialysisSession
	Labs        []LabResult
	Medications []Medication
}

// SeedRepository writes demonstration data.
type SeedRepository interface {
	// ReplaceAll deletes every patient (cascading to history) and inserts
	// the given set in one transaction.
	ReplaceAll(ctx context.Context, patients []SeedPatient) error
	ListPatients(ctx context.Context) ([]Patient, error)
	// ReplaceLabs swaps a patient's lab history.
	ReplaceLabs(ctx context.Context, patientID int, labs []LabResult) error
}

// SessionPage is one page of a patient's sessions, newest first, each with
// its latest vital.
type SessionPage struct {
	Patient  Patient
	Sessions []DialysisSession
	Total    int
}
