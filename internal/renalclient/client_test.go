package renalclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renalsim/renalsim/internal/domain/copilot"
	"github.com/renalsim/renalsim/internal/domain/riskmodel"
)

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func noWait(int) time.Duration { return 0 }

func TestLinearBackoff(t *testing.T) {
	assert.Equal(t, time.Second, LinearBackoff(0))
	assert.Equal(t, 2*time.Second, LinearBackoff(1))
}

func TestGetPatient_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/patients/HD-1074", r.URL.Path)
		if atomic.AddInt32(&calls, 1) < 3 {
			writeJSON(w, http.StatusInternalServerError, `{"error":"Failed to fetch patient details","details":"timeout"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"id":"HD-1074","name":"James Thompson","riskSource":"formula","sessions":[]}`)
	}))
	defer srv.Close()

	var waits []int
	c := New(srv.URL, WithBackoff(func(attempt int) time.Duration {
		waits = append(waits, attempt)
		return 0
	}))

	d, err := c.GetPatient(context.Background(), "HD-1074")
	require.NoError(t, err)
	assert.Equal(t, "James Thompson", d.Name)
	assert.Equal(t, riskmodel.SourceFormula, d.RiskSource)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []int{0, 1}, waits)
}

func TestGetPatient_NotFoundIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusNotFound, `{"error":"Patient not found"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, WithBackoff(noWait))
	_, err := c.GetPatient(context.Background(), "HD-0000")
	require.ErrorIs(t, err, ErrPatientNotFound)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetPatient_GivesUp(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusServiceUnavailable, `{"error":"Service Unavailable"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, WithBackoff(noWait))
	_, err := c.GetPatient(context.Background(), "HD-1003")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, int32(DefaultAttempts), atomic.LoadInt32(&calls))
}

func TestGetPatient_ContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, `{"error":"boom"}`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := New(srv.URL, WithBackoff(func(int) time.Duration {
		cancel()
		return time.Minute
	}))
	_, err := c.GetPatient(ctx, "HD-1003")
	require.ErrorIs(t, err, context.Canceled)
}

func TestListPatients_SendsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret-token" {
			writeJSON(w, http.StatusUnauthorized, `{"error":"Missing authorization header"}`)
			return
		}
		writeJSON(w, http.StatusOK, `[{"id":"HD-1003","name":"Maria Garcia","riskLevel":"Low"}]`)
	}))
	defer srv.Close()

	patients, err := New(srv.URL, WithToken("secret-token")).ListPatients(context.Background())
	require.NoError(t, err)
	require.Len(t, patients, 1)
	assert.Equal(t, riskmodel.RiskLow, patients[0].RiskLevel)

	_, err = New(srv.URL).ListPatients(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Missing authorization header", apiErr.Message)
}

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "How is the potassium?", body["message"])
		ctx, _ := body["context"].(map[string]any)
		assert.Equal(t, "James Thompson", ctx["name"])
		writeJSON(w, http.StatusOK, `{"response":"Potassium is elevated."}`)
	}))
	defer srv.Close()

	answer, err := New(srv.URL).Chat(context.Background(), "How is the potassium?", &copilot.PatientContext{Name: "James Thompson"})
	require.NoError(t, err)
	assert.Equal(t, "Potassium is elevated.", answer)
}

func TestChat_NotConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, `{"error":"API Key not configured"}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Chat(context.Background(), "hi", nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "API Key not configured", apiErr.Message)
}

func TestPredict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ActiveLevers map[string]bool `json:"activeLevers"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.ActiveLevers["cooling"] {
			writeJSON(w, http.StatusOK, `{"mortalityRisk30d":7.5,"mortalityRisk90d":15,"mortalityRisk1yr":20,"hospitalizationRisk30d":4,"explanation":"Cooling reduces IDH."}`)
			return
		}
		writeJSON(w, http.StatusOK, "null\n")
	}))
	defer srv.Close()

	c := New(srv.URL)
	p, err := c.Predict(context.Background(), copilot.PatientContext{}, riskmodel.NewLeverState(riskmodel.Cooling))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 7.5, p.MortalityRisk30d)
	assert.Equal(t, "Cooling reduces IDH.", p.Explanation)

	p, err = c.Predict(context.Background(), copilot.PatientContext{}, riskmodel.NewLeverState())
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestApplyLevers(t *testing.T) {
	want := riskmodel.NewModel().Evaluate(riskmodel.NewLeverState(riskmodel.CVCExitPlan), true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/levers/apply", r.URL.Path)
		data, _ := json.Marshal(want)
		writeJSON(w, http.StatusOK, string(data))
	}))
	defer srv.Close()

	got, err := New(srv.URL).ApplyLevers(context.Background(), riskmodel.NewLeverState(riskmodel.CVCExitPlan), "CVC")
	require.NoError(t, err)
	assert.Equal(t, want.Levers, got.Levers)
	assert.InDelta(t, want.MortalityDelta.D30, got.MortalityDelta.D30, 1e-9)
}
