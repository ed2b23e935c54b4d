package copilot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/renalsim/renalsim/internal/domain/patient"
	"github.com/renalsim/renalsim/internal/domain/riskmodel"
	"github.com/renalsim/renalsim/internal/platform/cache"
	"github.com/renalsim/renalsim/internal/platform/llm"
)

type fakeCompleter struct {
	mu         sync.Mutex
	configured bool
	replies    []string
	err        error
	requests   []llm.Request
}

func newFakeCompleter(replies ...string) *fakeCompleter {
	return &fakeCompleter{configured: true, replies: replies}
}

func (f *fakeCompleter) Configured() bool { return f.configured }

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", llm.ErrEmptyResponse
	}
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return reply, nil
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeCompleter) last() llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestService(c Completer, kv cache.KVStore) *Service {
	return NewService(c, kv, Config{CacheTTL: time.Minute}, zerolog.Nop())
}

func samplePatient() PatientContext {
	return PatientContext{
		Name:             "James Thompson",
		Age:              69,
		Sex:              "Male",
		PrimaryDiagnosis: "Diabetic Nephropathy",
		DialysisVintage:  52,
		AccessType:       "CVC",
		Access:           &patient.AccessProfile{Type: "CVC", Location: "Left Arm"},
		Sessions: []patient.SessionSummary{
			{PreSBP: 140, PreDBP: 80, PostSBP: 93, PostDBP: 40, PreWeight: 75.4, PostWeight: 74, Events: []string{"Hypotension"}},
			{PostSBP: 92, PostDBP: 42, Events: []string{}},
		},
		Labs: []patient.LabValue{
			{Name: "Potassium", Value: 6.1, Unit: "mEq/L"},
			{Name: "Albumin", Value: 3.2, Unit: "g/dL"},
		},
		Medications:         []patient.MedicationEntry{{Name: "Sevelamer", Dose: "800mg"}},
		MortalityRisk:       riskmodel.Horizon{D30: 12, D90: 30, Y1: 96},
		HospitalizationRisk: riskmodel.HospitalizationRisk{D30: 9.6, D90: 21},
	}
}

func sampleRiskContext() patient.RiskContext {
	k := 6.1
	return patient.RiskContext{Age: 69, Sex: "Male", Diagnosis: "Diabetic Nephropathy", AccessType: "CVC", LabAlbumin: 3.2, LabPotassium: &k}
}

// -- Prompts --

func TestChatPrompt(t *testing.T) {
	pc := samplePatient()
	prompt := ChatPrompt(&pc)

	for _, want := range []string{
		"You are a specialized Dialysis Assistant for the RenalSim dashboard.",
		"Name: James Thompson",
		"Age: 69",
		"Diagnosis: Diabetic Nephropathy",
		"Access Type: CVC",
		"- Blood Pressure: 93/40",
		"- Weight: 74 kg",
		"- Potassium: 6.1 mEq/L",
		"- Sevelamer 800mg",
		"Be helpful, clinical, and concise.",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestChatPrompt_Empty(t *testing.T) {
	prompt := ChatPrompt(nil)
	for _, want := range []string{"Name: Unknown", "No recent labs", "Medications:\nNone"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestPredictPrompt(t *testing.T) {
	pc := samplePatient()
	prompt := PredictPrompt(&pc, riskmodel.BaselineFrom(pc.MortalityRisk, pc.HospitalizationRisk.D30))

	for _, want := range []string{
		"- Name: James Thompson (69y Male)",
		"- Access: CVC (Left Arm)",
		"- Pre-Dialysis BP: 140/80",
		"- Pre-Weight: 75.4 kg",
		"- IDH Events: 1 in last 2 sessions.",
		"- Albumin: 3.2 g/dL",
		"- Hemoglobin: N/A g/dL",
		"- 30-Day Mortality: 12%",
		"- 90-Day Mortality: 30%",
		`"Cool dialysate": +15% reduction`,
		`"Access surveillance": +10% reduction`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

// -- Chat --

func TestService_Chat(t *testing.T) {
	fc := newFakeCompleter("Potassium is elevated.")
	svc := newTestService(fc, nil)
	pc := samplePatient()

	answer, err := svc.Chat(context.Background(), "How is his potassium?", &pc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "Potassium is elevated." {
		t.Errorf("unexpected answer %q", answer)
	}
	req := fc.last()
	if req.Model != DefaultChatModel {
		t.Errorf("expected chat model, got %s", req.Model)
	}
	if req.Temperature != nil {
		t.Errorf("chat should use the provider temperature, got %v", *req.Temperature)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "How is his potassium?" {
		t.Errorf("unexpected messages %+v", req.Messages)
	}
}

func TestService_Chat_Errors(t *testing.T) {
	fc := newFakeCompleter()
	fc.configured = false
	svc := newTestService(fc, nil)
	if _, err := svc.Chat(context.Background(), "hi", nil); !errors.Is(err, llm.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}

	fc.configured = true
	if _, err := svc.Chat(context.Background(), "   ", nil); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
	if fc.calls() != 0 {
		t.Errorf("model should not be called, got %d calls", fc.calls())
	}
}

// -- Risk analysis --

func TestService_AnalyzeRisk(t *testing.T) {
	fc := newFakeCompleter("```json\n{\"mortalityRisk30d\": 14, \"topRiskFactor\": \"Catheter\", \"explanation\": \"CVC and low albumin.\"}\n```")
	svc := newTestService(fc, nil)

	insight, err := svc.AnalyzeRisk(context.Background(), sampleRiskContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if insight.Mortality != (riskmodel.Horizon{D30: 14, D90: 35, Y1: 100}) {
		t.Errorf("expected extended horizons, got %+v", insight.Mortality)
	}
	if insight.TopRiskFactor != "Catheter" || insight.Explanation != "CVC and low albumin." {
		t.Errorf("unexpected insight %+v", insight)
	}

	req := fc.last()
	if req.Model != DefaultAnalysisModel || req.Temperature == nil || *req.Temperature != 0.1 {
		t.Errorf("unexpected request model=%s temperature=%v", req.Model, req.Temperature)
	}
	if !strings.Contains(req.Messages[1].Content, `"accessType": "CVC"`) {
		t.Errorf("expected indented JSON context, got %s", req.Messages[1].Content)
	}
}

func TestService_AnalyzeRisk_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"not json", "The patient is at high risk."},
		{"no 30d", `{"mortalityRisk90d": 20}`},
		{"null 30d", `{"mortalityRisk30d": null}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(newFakeCompleter(tt.reply), nil)
			if insight, err := svc.AnalyzeRisk(context.Background(), sampleRiskContext()); err == nil {
				t.Errorf("expected error, got %+v", insight)
			}
		})
	}
}

func TestService_AnalyzeRisk_Cached(t *testing.T) {
	fc := newFakeCompleter(`{"mortalityRisk30d": 8, "mortalityRisk90d": 18, "mortalityRisk1yr": 40}`)
	svc := newTestService(fc, cache.NewMemoryKVStore())
	rc := sampleRiskContext()

	for i := 0; i < 3; i++ {
		insight, err := svc.AnalyzeRisk(context.Background(), rc)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if insight.Mortality.D90 != 18 {
			t.Errorf("call %d: unexpected insight %+v", i, insight)
		}
	}
	if fc.calls() != 1 {
		t.Errorf("expected 1 model call, got %d", fc.calls())
	}

	rc.Age = 70
	if _, err := svc.AnalyzeRisk(context.Background(), rc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fc.calls() != 2 {
		t.Errorf("a different context should miss the cache, got %d calls", fc.calls())
	}
}

func TestService_AnalyzeRisk_ErrorsAreNotCached(t *testing.T) {
	fc := newFakeCompleter()
	fc.err = errors.New("rate limited")
	svc := newTestService(fc, cache.NewMemoryKVStore())

	for i := 0; i < 2; i++ {
		if _, err := svc.AnalyzeRisk(context.Background(), sampleRiskContext()); err == nil {
			t.Fatal("expected error")
		}
	}
	if fc.calls() != 2 {
		t.Errorf("expected each call to reach the model, got %d", fc.calls())
	}
}

// -- Recommendations --

func TestService_Recommend(t *testing.T) {
	reply := `[
		{"id": "b", "rank": 2, "description": "Start potassium binder", "feasibility": "Easy", "urgency": "High", "category": "Medical", "expectedMortalityReduction": 1.5},
		{"id": "a", "rank": 1, "description": "Plan AVF creation", "feasibility": "Hard", "urgency": "Urgent", "category": "Operational", "expectedMortalityReduction": 3},
		{"rank": 3, "description": "Dietitian referral", "feasibility": "Easy", "urgency": "Medium", "category": "Lifestyle", "expectedMortalityReduction": -1},
		{"id": "x", "rank": 9, "description": "Out of range", "feasibility": "Easy", "urgency": "High", "category": "Medical"},
		{"id": "y", "rank": 4, "description": "Bad enum", "feasibility": "Trivial", "urgency": "High", "category": "Medical"},
		{"id": "z", "rank": 5, "description": "", "feasibility": "Easy", "urgency": "High", "category": "Medical"}
	]`
	fc := newFakeCompleter(reply)
	svc := newTestService(fc, nil)

	recs, err := svc.Recommend(context.Background(), sampleRiskContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 valid recommendations, got %d: %+v", len(recs), recs)
	}
	if recs[0].ID != "a" || recs[1].ID != "b" {
		t.Errorf("expected rank order, got %s, %s", recs[0].ID, recs[1].ID)
	}
	if recs[2].ID == "" {
		t.Error("expected a generated id")
	}
	if recs[2].ExpectedMortalityReduction != 0 {
		t.Errorf("negative reduction should be zeroed, got %v", recs[2].ExpectedMortalityReduction)
	}
	if req := fc.last(); req.Temperature == nil || *req.Temperature != 0.2 {
		t.Errorf("expected temperature 0.2, got %v", req.Temperature)
	}
}

func TestValidRecommendations_DuplicateIDs(t *testing.T) {
	in := []patient.Recommendation{
		{ID: "r", Rank: 1, Description: "one", Feasibility: "Easy", Urgency: "High", Category: "Medical"},
		{ID: "r", Rank: 2, Description: "two", Feasibility: "Easy", Urgency: "High", Category: "Medical"},
	}
	out := validRecommendations(in)
	if len(out) != 2 || out[0].ID == out[1].ID {
		t.Errorf("expected unique ids, got %+v", out)
	}
}

// -- Prediction --

func TestService_PredictInterventionImpact(t *testing.T) {
	reply := "```json\n{\"mortalityRisk30d\": 9.6, \"mortalityRisk90d\": \"lower\", \"mortalityRisk1yr\": 150, \"hospitalizationRisk30d\": 20, \"explanation\": \"Cooling reduces IDH.\"}\n```"
	fc := newFakeCompleter(reply)
	svc := newTestService(fc, nil)
	levers := riskmodel.NewLeverState(riskmodel.Cooling, riskmodel.AccessSurveillance)

	p, err := svc.PredictInterventionImpact(context.Background(), samplePatient(), levers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.MortalityRisk30d != 9.6 {
		t.Errorf("expected 9.6, got %v", p.MortalityRisk30d)
	}
	if p.MortalityRisk90d != 30 || p.MortalityRisk1yr != 96 {
		t.Errorf("invalid fields should fall back to baseline, got %v/%v", p.MortalityRisk90d, p.MortalityRisk1yr)
	}
	if p.HospitalizationRisk30d != 9.6 {
		t.Errorf("hospitalization should be capped at baseline, got %v", p.HospitalizationRisk30d)
	}
	if p.Explanation != "Cooling reduces IDH." {
		t.Errorf("unexpected explanation %q", p.Explanation)
	}

	user := fc.last().Messages[1].Content
	if !strings.Contains(user, "Access surveillance") || !strings.Contains(user, "Cool dialysate") {
		t.Errorf("expected active lever labels in user message, got %s", user)
	}
}

func TestService_PredictInterventionImpact_FloorsAndDefaults(t *testing.T) {
	fc := newFakeCompleter(`{"mortalityRisk30d": 0.5, "mortalityRisk90d": 25, "mortalityRisk1yr": 1}`)
	svc := newTestService(fc, nil)

	// No risk on the context: baselines are 10/20/25/5.
	p, err := svc.PredictInterventionImpact(context.Background(), PatientContext{Name: "New"}, riskmodel.DefaultLevers())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.MortalityRisk30d != 2 || p.MortalityRisk90d != 20 || p.MortalityRisk1yr != 10 || p.HospitalizationRisk30d != 5 {
		t.Errorf("unexpected clamped prediction %+v", p)
	}
	if p.Explanation != riskmodel.DefaultPredictionExplanation {
		t.Errorf("expected default explanation, got %q", p.Explanation)
	}
	if !strings.Contains(fc.last().Messages[0].Content, "30-Day Mortality: 10%") {
		t.Error("expected default baseline in prompt")
	}
}

func TestService_PredictInterventionImpact_Failures(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{"not json", "Risk goes down.", nil},
		{"array", `[1, 2]`, nil},
		{"null", `null`, nil},
		{"model error", "", errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := newFakeCompleter(tt.reply)
			fc.err = tt.err
			svc := newTestService(fc, nil)
			p, err := svc.PredictInterventionImpact(context.Background(), samplePatient(), riskmodel.DefaultLevers())
			if err == nil || p != nil {
				t.Errorf("expected nil prediction and error, got %+v, %v", p, err)
			}
		})
	}
}

func TestPercentOr(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"", 7},
		{"null", 7},
		{"12.5", 12.5},
		{"0", 0},
		{"100", 100},
		{"-1", 7},
		{"101", 7},
		{`"12"`, 7},
		{"true", 7},
	}
	for _, tt := range tests {
		if got := percentOr([]byte(tt.raw), 7); got != tt.want {
			t.Errorf("percentOr(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestContextFromDetail(t *testing.T) {
	d := &patient.Detail{Summary: patient.Summary{Name: "Mary Johnson", Age: 55, AccessType: "AVF"}}
	d.Labs = []patient.LabValue{{Name: "Potassium", Value: 6.1}}
	pc := ContextFromDetail(d)
	if pc.Name != "Mary Johnson" || pc.AccessType != "AVF" || len(pc.Labs) != 1 {
		t.Errorf("unexpected context %+v", pc)
	}
}
