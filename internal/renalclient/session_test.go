package renalclient

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renalsim/renalsim/internal/domain/copilot"
	"github.com/renalsim/renalsim/internal/domain/riskmodel"
)

func catheterContext() copilot.PatientContext {
	return copilot.PatientContext{
		Name:                "James Thompson",
		AccessType:          "CVC",
		MortalityRisk:       riskmodel.Horizon{D30: 12, D90: 30, Y1: 96},
		HospitalizationRisk: riskmodel.HospitalizationRisk{D30: 9.6, D90: 21},
	}
}

func nextImpact(t *testing.T, s *LeverSession) Impact {
	t.Helper()
	select {
	case im := <-s.Updates():
		return im
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for impact update")
	}
	return Impact{}
}

func TestLeverSession_FormulaOnly(t *testing.T) {
	model := riskmodel.NewModel()
	s := NewLeverSession(model, catheterContext(), nil, 0)
	defer s.Close()

	start := s.Impact()
	want := model.Evaluate(riskmodel.DefaultLevers(), true)
	assert.Equal(t, riskmodel.SourceFormula, start.Source)
	assert.Equal(t, riskmodel.DefaultLevers(), start.Levers)
	assert.Equal(t, want.Mediators, start.Mediators)
	assert.Equal(t, want.MortalityDelta, start.MortalityDelta)

	toggled := s.Toggle(riskmodel.Cooling)
	assert.True(t, toggled.Levers.Active(riskmodel.Cooling))
	assert.Greater(t, toggled.MortalityDelta.D30, start.MortalityDelta.D30)
	assert.Equal(t, toggled, s.Impact())

	s.Toggle(riskmodel.Cooling)
	assert.Equal(t, start.MortalityDelta, s.Impact().MortalityDelta)
}

func TestLeverSession_AppliesPrediction(t *testing.T) {
	predict := func(ctx context.Context, pc copilot.PatientContext, levers riskmodel.LeverState) (*riskmodel.Prediction, error) {
		assert.Equal(t, "James Thompson", pc.Name)
		// 30d below the floor is clamped to 2; hospitalization above baseline is capped.
		return &riskmodel.Prediction{MortalityRisk30d: 1, MortalityRisk90d: 24, MortalityRisk1yr: 90, HospitalizationRisk30d: 7.6}, nil
	}
	s := NewLeverSession(riskmodel.NewModel(), catheterContext(), predict, testDebounce)
	defer s.Close()

	formula := s.Set(riskmodel.NewLeverState(riskmodel.CVCExitPlan))
	assert.Equal(t, riskmodel.SourceFormula, formula.Source)

	im := nextImpact(t, s)
	require.NotNil(t, im.Prediction)
	assert.Equal(t, riskmodel.SourceAI, im.Source)
	assert.Equal(t, formula.Mediators, im.Mediators)
	assert.InDelta(t, 10.0, im.MortalityDelta.D30, 1e-9)
	assert.InDelta(t, 6.0, im.MortalityDelta.D90, 1e-9)
	assert.InDelta(t, 6.0, im.MortalityDelta.Y1, 1e-9)
	assert.InDelta(t, 2.0, im.HospitalizationDelta.D30, 1e-9)
	assert.Equal(t, riskmodel.DefaultPredictionExplanation, im.Prediction.Explanation)
	assert.Equal(t, im, s.Impact())
}

func TestLeverSession_FailedPredictionKeepsFormula(t *testing.T) {
	calls := make(chan struct{}, 1)
	predict := func(ctx context.Context, pc copilot.PatientContext, levers riskmodel.LeverState) (*riskmodel.Prediction, error) {
		calls <- struct{}{}
		return nil, errors.New("model unavailable")
	}
	s := NewLeverSession(riskmodel.NewModel(), catheterContext(), predict, testDebounce)
	defer s.Close()

	formula := s.Toggle(riskmodel.KBath2K)
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("prediction was never requested")
	}

	select {
	case im := <-s.Updates():
		t.Fatalf("unexpected update %+v", im)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, formula, s.Impact())
}

func TestLeverSession_Baseline(t *testing.T) {
	s := NewLeverSession(riskmodel.NewModel(), copilot.PatientContext{}, nil, 0)
	defer s.Close()
	assert.Equal(t, riskmodel.Baseline{Mortality30d: 10, Mortality90d: 20, Mortality1yr: 25, Hospitalization30d: 5}, s.Baseline())
}

func TestLeverSession_NoActiveLeversSkipsPrediction(t *testing.T) {
	var calls int32
	predict := func(ctx context.Context, pc copilot.PatientContext, levers riskmodel.LeverState) (*riskmodel.Prediction, error) {
		atomic.AddInt32(&calls, 1)
		return &riskmodel.Prediction{MortalityRisk30d: 6, MortalityRisk90d: 24, MortalityRisk1yr: 90, HospitalizationRisk30d: 8}, nil
	}
	s := NewLeverSession(riskmodel.NewModel(), catheterContext(), predict, testDebounce)
	defer s.Close()

	im := s.Set(riskmodel.LeverState{})
	assert.Equal(t, riskmodel.SourceFormula, im.Source)
	assert.Equal(t, riskmodel.DefaultMediators(), im.Mediators)
	assert.Equal(t, riskmodel.MortalityDelta{}, im.MortalityDelta)
	assert.Equal(t, riskmodel.HospitalizationDelta{}, im.HospitalizationDelta)
	assert.Nil(t, im.Prediction)

	select {
	case got := <-s.Updates():
		t.Fatalf("unexpected update %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	assert.Equal(t, im, s.Impact())
}

func TestLeverSession_ClearingLeversCancelsInFlight(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	predict := func(ctx context.Context, pc copilot.PatientContext, levers riskmodel.LeverState) (*riskmodel.Prediction, error) {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return &riskmodel.Prediction{MortalityRisk30d: 6}, nil
	}
	s := NewLeverSession(riskmodel.NewModel(), catheterContext(), predict, testDebounce)
	defer s.Close()

	s.Set(riskmodel.NewLeverState(riskmodel.Cooling))
	<-started
	im := s.Set(riskmodel.LeverState{})

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight prediction was not cancelled")
	}
	select {
	case got := <-s.Updates():
		t.Fatalf("unexpected update %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, riskmodel.SourceFormula, s.Impact().Source)
	assert.Equal(t, im, s.Impact())
}
