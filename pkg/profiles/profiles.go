// Package profiles holds environment profiles: the observation feature list,
// the learned action set and the timing thresholds used by one generation of
// the decision service.
package profiles

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/zetetos/racetrack-env/pkg/models"
)

var (
	ErrProfileNotFound  = errors.New("no profile found with id")
	ErrStateSpace       = errors.New("feature count does not match state space")
	ErrInvalidProfile   = errors.New("invalid profile")
	ErrDuplicateFeature = errors.New("duplicate feature")
)

// Profile is one environment configuration.
type Profile struct {
	ID                  string                     `json:"-"`
	Description         string                     `json:"description"`
	Version             int                        `json:"version"`
	StateSpace          int                        `json:"state_space"`
	Features            []string                   `json:"features"`
	ActionsList         []string                   `json:"actions_list"`
	ActionMappings      map[string]map[string]bool `json:"action_mappings"`
	ConstantControls    map[string]bool            `json:"constant_controls,omitempty"`
	CallCadence         int                        `json:"call_cadence"`
	SensorTolerance     float64                    `json:"sensor_tolerance"`
	StagnationSpeed     float64                    `json:"stagnation_speed"`
	StagnationTimeoutMs int                        `json:"stagnation_timeout_ms"`
	CountdownDelayMs    int                        `json:"countdown_delay_ms"`
	UnpausePollMs       int                        `json:"unpause_poll_ms"`
	SettleDelayMs       int                        `json:"settle_delay_ms"`
}

// Inventory maps profile id to profile.
type Inventory map[string]Profile

// ProfileDB provides lookups over the profile inventory.
type ProfileDB struct {
	inventory Inventory
}

//go:embed profiles.json
var baseInventoryJSON []byte

// NewDB loads the inventory, falling back to the embedded one on nil input.
// Every profile is checked with Check.
func NewDB(inventoryJSON []byte) (*ProfileDB, error) {
	inventory := Inventory{}

	if inventoryJSON == nil {
		inventoryJSON = baseInventoryJSON
	}

	if err := json.Unmarshal(inventoryJSON, &inventory); err != nil {
		return &ProfileDB{}, fmt.Errorf("unmarshall profile inventory JSON: %w", err)
	}

	for id, p := range inventory {
		p.ID = id
		if err := p.Check(); err != nil {
			return &ProfileDB{}, fmt.Errorf("profile %s: %w", id, err)
		}
	}

	return &ProfileDB{inventory: inventory}, nil
}

// GetProfileByID returns a profile by id.
func (db *ProfileDB) GetProfileByID(id string) (Profile, error) {
	p, ok := db.inventory[id]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}

	p.ID = id

	return p, nil
}

// GetAllProfileIDs returns the sorted profile ids.
func (db *ProfileDB) GetAllProfileIDs() []string {
	ids := make([]string, 0, len(db.inventory))
	for id := range db.inventory {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Check validates the static shape of a profile. Feature names themselves are
// resolved by the environment when it builds the observation schema.
func (p Profile) Check() error {
	if len(p.Features) != p.StateSpace {
		return fmt.Errorf("%w: %d features, state_space %d", ErrStateSpace, len(p.Features), p.StateSpace)
	}

	seen := make(map[string]bool, len(p.Features))
	for _, f := range p.Features {
		if seen[f] {
			return fmt.Errorf("%w: %s", ErrDuplicateFeature, f)
		}

		seen[f] = true
	}

	if len(p.ActionsList) == 0 {
		return fmt.Errorf("%w: empty actions_list", ErrInvalidProfile)
	}

	if p.CallCadence <= 0 {
		return fmt.Errorf("%w: call_cadence must be positive", ErrInvalidProfile)
	}

	var probe models.Controls

	for _, name := range p.ActionsList {
		if err := probe.Set(name, false); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidProfile, err)
		}
	}

	for name := range p.ConstantControls {
		if err := probe.Set(name, false); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidProfile, err)
		}
	}

	if _, err := p.Mappings(); err != nil {
		return err
	}

	return nil
}

// Mappings returns the action mappings keyed by action index.
func (p Profile) Mappings() (map[int]map[string]bool, error) {
	out := make(map[int]map[string]bool, len(p.ActionMappings))

	for key, mapping := range p.ActionMappings {
		index, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("%w: action mapping key %q", ErrInvalidProfile, key)
		}

		out[index] = mapping
	}

	return out, nil
}

// ActionSpace returns the number of discrete actions.
func (p Profile) ActionSpace() int {
	return len(p.ActionMappings)
}

func (p Profile) StagnationTimeout() time.Duration {
	return time.Duration(p.StagnationTimeoutMs) * time.Millisecond
}

func (p Profile) CountdownDelay() time.Duration {
	return time.Duration(p.CountdownDelayMs) * time.Millisecond
}

func (p Profile) UnpausePoll() time.Duration {
	return time.Duration(p.UnpausePollMs) * time.Millisecond
}

func (p Profile) SettleDelay() time.Duration {
	return time.Duration(p.SettleDelayMs) * time.Millisecond
}
