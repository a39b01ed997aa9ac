package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apettas/adeies/api"
	"github.com/apettas/adeies/factory"
	"github.com/apettas/adeies/workflow"
)

func TestScenarios_AllParse(t *testing.T) {
	all, err := api.Scenarios()
	require.NoError(t, err)

	ids := make([]string, len(all))
	for i, s := range all {
		ids[i] = s.ID
		_, err := factory.FromYAML(s.Organisation)
		assert.NoError(t, err, s.ID)
	}
	assert.Equal(t, []string{"regional-directorate", "small-office", "year-end"}, ids)
}

func TestListScenarios(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(http.MethodGet, "/api/scenarios/", "", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[[]api.ScenarioDTO](t, rec), 3)
}

func TestLoadScenario_RegionalDirectorate(t *testing.T) {
	env := newAPIEnv(t)

	// WHEN: Loading the scenario
	rec := env.do(http.MethodPost, "/api/scenarios/load", "", api.LoadScenarioRequest{ScenarioID: "regional-directorate"})

	// THEN: Every user gets a token
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.LoadScenarioResponse](t, rec)
	assert.Len(t, resp.Users, 14)
	require.Contains(t, resp.Tokens, "staff-officer")

	// AND: The replayed completion deducted five days
	rec = env.do(http.MethodGet, "/api/users/staff-officer/balance", "staff-officer", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	b := decode[api.BalanceDTO](t, rec)
	assert.Equal(t, 23, b.TotalBalance)
	assert.Equal(t, 0, b.CarryoverDays)

	// AND: The support-center secretary has the approved request waiting
	rec = env.do(http.MethodGet, "/api/requests?actionable=true", "kedasy-sec", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]api.RequestDTO](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, string(workflow.StatusPendingSecretarialProtocol), list[0].Status)

	// AND: The old fixture is gone
	rec = env.do(http.MethodGet, "/api/requests", admin, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// AND: The current scenario is reported
	rec = env.do(http.MethodGet, "/api/scenarios/current", "", nil)
	assert.Equal(t, "regional-directorate", decode[map[string]string](t, rec)["scenario_id"])
}

func TestLoadScenario_TokensAuthenticate(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(http.MethodPost, "/api/scenarios/load", "", api.LoadScenarioRequest{ScenarioID: "small-office"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.LoadScenarioResponse](t, rec)

	for id, token := range resp.Tokens {
		req := httptest.NewRequest(http.MethodGet, "/api/users/"+id+"/balance", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, id)
	}
}

func TestLoadScenario_Unknown(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(http.MethodPost, "/api/scenarios/load", "", api.LoadScenarioRequest{ScenarioID: "nope"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[api.ErrorResponse](t, rec).Code)
}
