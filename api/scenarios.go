/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built organisations that populate the store with realistic
	data for demos. Each scenario is an embedded YAML file holding an
	organisation definition (see factory/org.go) plus requests to replay
	through the workflow engine.

AVAILABLE SCENARIOS:

	regional-directorate: Directorate escalation, secretarial protocol, handler
	small-office:         Two departments under the head of the organisation
	year-end:             Balances ready for the yearly rollover

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Parse the definition via factory
 3. Seed departments, users and leave types
 4. Rebuild the organisation snapshot with the scenario's org config
 5. Replay requests: create the draft, then fire each event as its actor
 6. Return a bearer token per user

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "regional-directorate"}

ADDING NEW SCENARIOS:

	Drop a YAML file into scenarios/. The id field names it.

NOTE:

	Scenarios reset the store. Only mounted when the server runs with --demo.

SEE ALSO:
  - handlers.go: Handler
  - factory/org.go: Organisation YAML schema
*/
package api

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/apettas/adeies/factory"
	"github.com/apettas/adeies/org"
	"github.com/apettas/adeies/workflow"
)

//go:embed scenarios/*.yaml
var scenarioFiles embed.FS

// demoTokenTTL is how long tokens returned by LoadScenario stay valid.
const demoTokenTTL = 24 * time.Hour

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type Scenario struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	Organisation factory.OrgYAML   `yaml:"organisation"`
	Requests     []ScenarioRequest `yaml:"requests"`
}

// ScenarioRequest is a draft plus the events replayed on it, in order.
type ScenarioRequest struct {
	Owner         string          `yaml:"owner"`
	LeaveType     string          `yaml:"leave_type"`
	Justification string          `yaml:"justification"`
	Periods       []PeriodDTO     `yaml:"periods"`
	Events        []ScenarioEvent `yaml:"events"`
}

type ScenarioEvent struct {
	Event          string `yaml:"event"`
	Actor          string `yaml:"actor"`
	Reason         string `yaml:"reason,omitempty"`
	ProtocolNumber string `yaml:"protocol_number,omitempty"`
}

var ErrUnknownScenario = errors.New("unknown scenario")

// Scenarios returns the embedded scenarios sorted by id.
func Scenarios() ([]Scenario, error) {
	paths, err := fs.Glob(scenarioFiles, "scenarios/*.yaml")
	if err != nil {
		return nil, err
	}
	out := make([]Scenario, 0, len(paths))
	for _, p := range paths {
		data, err := scenarioFiles.ReadFile(p)
		if err != nil {
			return nil, err
		}
		var s Scenario
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", p, err)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func findScenario(id string) (Scenario, error) {
	all, err := Scenarios()
	if err != nil {
		return Scenario{}, err
	}
	for _, s := range all {
		if s.ID == id {
			return s, nil
		}
	}
	return Scenario{}, fmt.Errorf("%w: %s", ErrUnknownScenario, id)
}

// =============================================================================
// LOADING
// =============================================================================

// Load resets the store and installs scenario id. It returns the seeded users.
func (h *Handler) Load(ctx context.Context, id string) ([]org.User, error) {
	s, err := findScenario(id)
	if err != nil {
		return nil, err
	}
	def, err := factory.FromYAML(s.Organisation)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", id, err)
	}

	if err := h.Store.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset store: %w", err)
	}
	if err := def.Apply(ctx, h.Store); err != nil {
		return nil, err
	}
	cfg := def.Org
	if _, err := h.Org.Reload(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("reload organisation: %w", err)
	}

	for i, sr := range s.Requests {
		if err := h.replay(ctx, sr); err != nil {
			return nil, fmt.Errorf("scenario %s request %d: %w", id, i+1, err)
		}
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()

	h.Log.Info().Str("scenario", id).Int("users", len(def.Users)).Int("requests", len(s.Requests)).Msg("scenario loaded")
	return def.Users, nil
}

func (h *Handler) replay(ctx context.Context, sr ScenarioRequest) error {
	periods, err := parsePeriods(sr.Periods)
	if err != nil {
		return err
	}
	req, err := h.Engine.Create(ctx, org.UserID(sr.Owner), workflow.Draft{
		LeaveTypeID:   workflow.LeaveTypeID(sr.LeaveType),
		Justification: sr.Justification,
		Periods:       periods,
	})
	if err != nil {
		return err
	}
	for _, ev := range sr.Events {
		req, err = h.Engine.Apply(ctx, req.ID, workflow.Event(ev.Event), org.UserID(ev.Actor), workflow.Payload{
			Reason:         ev.Reason,
			ProtocolNumber: ev.ProtocolNumber,
		})
		if err != nil {
			return fmt.Errorf("%s by %s: %w", ev.Event, ev.Actor, err)
		}
	}
	return nil
}

// =============================================================================
// SCENARIO HANDLERS
// =============================================================================

// ListScenarios returns the available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	all, err := Scenarios()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]ScenarioDTO, len(all))
	for i, s := range all {
		dtos[i] = ScenarioDTO{ID: s.ID, Name: s.Name, Description: s.Description}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the id of the last loaded scenario.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": current})
}

// LoadScenario resets the store and loads a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var body LoadScenarioRequest
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	users, err := h.Load(r.Context(), body.ScenarioID)
	if err != nil {
		if errors.Is(err, ErrUnknownScenario) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "scenario not found", Code: "not_found", Details: err.Error()})
			return
		}
		h.writeError(w, r, err)
		return
	}

	resp := LoadScenarioResponse{
		ScenarioID: body.ScenarioID,
		Users:      toUserDTOs(users),
		Tokens:     make(map[string]string, len(users)),
	}
	if h.JWTSecret != "" {
		for _, u := range users {
			token, err := SignToken(h.JWTSecret, u.ID, demoTokenTTL)
			if err != nil {
				h.writeError(w, r, err)
				return
			}
			resp.Tokens[string(u.ID)] = token
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
