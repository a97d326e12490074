// Package tracks holds the track inventory: centre line waypoints, spawn point
// and altitude thresholds for every known track.
package tracks

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/zetetos/racetrack-env/pkg/models"
)

const (
	defaultHalfWidth  = 4.0
	defaultWallHeight = 3.0
	schemaResource    = "track-schema.json"
)

var (
	ErrTrackNotFound  = errors.New("no track found with id")
	ErrInvalidTrack   = errors.New("track failed schema validation")
	ErrNoDefaultTrack = errors.New("inventory has no default track")
)

// Track describes one drivable track.
type Track struct {
	ID            string              `json:"-"`
	Name          string              `json:"name"`
	Default       bool                `json:"default,omitempty"`
	Spawn         models.Coordinate   `json:"spawn"`
	StartAltitude float64             `json:"start_altitude"`
	DeathAltitude float64             `json:"death_altitude"`
	GravityZ      float64             `json:"gravity_z"`
	HalfWidth     float64             `json:"half_width,omitempty"`
	WallHeight    float64             `json:"wall_height,omitempty"`
	Waypoints     []models.Coordinate `json:"waypoints"`
}

// Inventory is the JSON document holding all tracks.
type Inventory struct {
	Tracks map[string]Track `json:"tracks"`
}

// TrackDB provides lookups over a validated inventory.
type TrackDB struct {
	inventory *Inventory
}

//go:embed tracks.json
var baseInventoryJSON []byte

//go:embed track-schema.json
var schemaJSON []byte

// Schema compiles the embedded inventory schema.
func Schema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7

	if err := compiler.AddResource(schemaResource, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add track schema resource: %w", err)
	}

	schema, err := compiler.Compile(schemaResource)
	if err != nil {
		return nil, fmt.Errorf("compile track schema: %w", err)
	}

	return schema, nil
}

// Validate checks an inventory document against the schema.
func Validate(inventoryJSON []byte) error {
	schema, err := Schema()
	if err != nil {
		return err
	}

	var doc interface{}
	if err := json.Unmarshal(inventoryJSON, &doc); err != nil {
		return fmt.Errorf("unmarshall track inventory JSON: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTrack, err)
	}

	return nil
}

// NewDB loads and validates an inventory. A nil argument loads the embedded
// inventory.
func NewDB(inventoryJSON []byte) (*TrackDB, error) {
	if inventoryJSON == nil {
		inventoryJSON = baseInventoryJSON
	}

	if err := Validate(inventoryJSON); err != nil {
		return &TrackDB{}, err
	}

	inventory := Inventory{}

	if err := json.Unmarshal(inventoryJSON, &inventory); err != nil {
		return &TrackDB{}, fmt.Errorf("unmarshall track inventory JSON: %w", err)
	}

	return &TrackDB{inventory: &inventory}, nil
}

// GetTrackByID returns the track with the given id.
func (db *TrackDB) GetTrackByID(id string) (Track, error) {
	if db.inventory == nil {
		return Track{}, fmt.Errorf("%w: %s", ErrTrackNotFound, id)
	}

	track, ok := db.inventory.Tracks[id]
	if !ok {
		return Track{}, fmt.Errorf("%w: %s", ErrTrackNotFound, id)
	}

	track.ID = id

	return track.withDefaults(), nil
}

// GetDefaultTrack returns the track flagged as default.
func (db *TrackDB) GetDefaultTrack() (Track, error) {
	for _, id := range db.GetAllTrackIDs() {
		if db.inventory.Tracks[id].Default {
			return db.GetTrackByID(id)
		}
	}

	return Track{}, ErrNoDefaultTrack
}

// GetAllTrackIDs returns every track id in sorted order.
func (db *TrackDB) GetAllTrackIDs() []string {
	if db.inventory == nil {
		return nil
	}

	ids := make([]string, 0, len(db.inventory.Tracks))
	for id := range db.inventory.Tracks {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

func (t Track) withDefaults() Track {
	if t.HalfWidth == 0 {
		t.HalfWidth = defaultHalfWidth
	}

	if t.WallHeight == 0 {
		t.WallHeight = defaultWallHeight
	}

	return t
}

// Vecs returns the waypoints as geometry vectors.
func (t Track) Vecs() []mgl64.Vec3 {
	out := make([]mgl64.Vec3, len(t.Waypoints))
	for i, wp := range t.Waypoints {
		out[i] = wp.Vec()
	}

	return out
}
