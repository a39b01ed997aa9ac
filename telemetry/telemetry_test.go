package telemetry_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apettas/adeies/telemetry"
)

func TestNewLogger_JSON(t *testing.T) {
	// GIVEN: A warn-level JSON logger
	var buf bytes.Buffer
	log, err := telemetry.NewLogger("warn", false, &buf)
	require.NoError(t, err)

	// WHEN: Logging below and at the level
	log.Info().Msg("dropped")
	log.Warn().Str("user_id", "u1").Msg("kept")

	// THEN: Only the warn line is written, with a timestamp
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["message"])
	assert.Equal(t, "u1", line["user_id"])
	assert.Contains(t, line, "time")
}

func TestNewLogger_Pretty(t *testing.T) {
	var buf bytes.Buffer
	log, err := telemetry.NewLogger("", true, &buf)
	require.NoError(t, err)

	log.Info().Msg("hello")

	assert.Contains(t, buf.String(), "hello")
	assert.NotContains(t, buf.String(), `"message"`)
}

func TestParseLevel(t *testing.T) {
	lvl, err := telemetry.ParseLevel(" DEBUG ")
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, lvl)

	_, err = telemetry.ParseLevel("chatty")
	assert.Error(t, err)
}

func TestMetrics_Counters(t *testing.T) {
	// GIVEN: Metrics on a fresh registry
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)

	// WHEN: Recording workflow and ledger events
	m.Transition("submit", "draft", "submitted")
	m.Transition("submit", "draft", "submitted")
	m.TransitionFailed("complete", "insufficient_balance")
	m.DaysDeducted(5)
	m.DaysDeducted(0)
	m.RolloverUsers(3)

	// THEN: Each series exists once and the counters hold the totals
	for _, name := range []string{
		"leave_transitions_total",
		"leave_transition_failures_total",
		"leave_ledger_days_deducted_total",
		"leave_rollover_users_total",
	} {
		count, err := testutil.GatherAndCount(reg, name)
		require.NoError(t, err)
		assert.Equal(t, 1, count, name)
	}
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP leave_ledger_days_deducted_total Leave days deducted from balances.
# TYPE leave_ledger_days_deducted_total counter
leave_ledger_days_deducted_total 5
# HELP leave_transitions_total Committed leave request transitions.
# TYPE leave_transitions_total counter
leave_transitions_total{event="submit",from="draft",to="submitted"} 2
`), "leave_ledger_days_deducted_total", "leave_transitions_total"))
}

func TestMetrics_HandlerServesRegistry(t *testing.T) {
	// GIVEN: A registry with one observed request
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)
	m.ObserveHTTP(http.MethodGet, "/api/requests/{id}", http.StatusOK, 12*time.Millisecond)
	m.DaysDeducted(8)

	// WHEN: Scraping
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	// THEN: Both series appear in the exposition
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `leave_http_request_duration_seconds_count{method="GET",route="/api/requests/{id}",status="200"} 1`)
	assert.Contains(t, body, "leave_ledger_days_deducted_total 8")
}
