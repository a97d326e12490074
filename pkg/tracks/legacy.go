package tracks

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"

	"github.com/dop251/goja"
	"github.com/gocarina/gocsv"
	"github.com/zetetos/racetrack-env/pkg/models"
)

// StartMargin is the height above the first waypoint at which a vehicle
// counts as having dropped onto the track.
const StartMargin = 0.5

var (
	ErrConfigVariableNotFound = errors.New("no config variable declared in script")
	ErrConfigObjectNotFound   = errors.New("config object not found in script")
	ErrNoWaypoints            = errors.New("config has no waypoints")
	ErrBadSpawn               = errors.New("spawn position must have three components")

	moduleExportPattern = regexp.MustCompile(`(?m)^\s*(module\.exports\s*=.*|export\s+default\s+.*|export\s*\{[^}]*\})\s*;?\s*$`)
	varNamePattern      = regexp.MustCompile(`(?m)^\s*(?:const|let|var)\s+(\w+)\s*=`)
)

// legacyConfig is the shape of the browser config module.
type legacyConfig struct {
	CarStartingPosition []float64                    `json:"carStartingPosition"`
	DeathPositionZ      float64                      `json:"deathPositionZ"`
	GravityZ            float64                      `json:"gravityZ"`
	PointsForLine       map[string]models.Coordinate `json:"pointsForLine"`
}

// ParseJS evaluates a legacy JavaScript config module and converts it into a
// Track. The start altitude sits StartMargin above the first waypoint.
func ParseJS(id, name string, body []byte) (Track, error) {
	jsCode := moduleExportPattern.ReplaceAllString(string(body), "")

	matches := varNamePattern.FindStringSubmatch(jsCode)
	if len(matches) < 2 {
		return Track{}, ErrConfigVariableNotFound
	}

	vm := goja.New()

	if _, err := vm.RunString(jsCode); err != nil {
		return Track{}, fmt.Errorf("executing track config JavaScript: %w", err)
	}

	value := vm.Get(matches[1])
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return Track{}, fmt.Errorf("%w: '%s'", ErrConfigObjectNotFound, matches[1])
	}

	raw, err := json.Marshal(value.Export())
	if err != nil {
		return Track{}, fmt.Errorf("converting track config to JSON: %w", err)
	}

	var cfg legacyConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Track{}, fmt.Errorf("parsing track config JSON: %w", err)
	}

	return cfg.toTrack(id, name)
}

func (c legacyConfig) toTrack(id, name string) (Track, error) {
	if len(c.PointsForLine) == 0 {
		return Track{}, ErrNoWaypoints
	}

	if len(c.CarStartingPosition) != 3 {
		return Track{}, fmt.Errorf("%w: got %d", ErrBadSpawn, len(c.CarStartingPosition))
	}

	type indexed struct {
		index int
		point models.Coordinate
	}

	points := make([]indexed, 0, len(c.PointsForLine))

	for key, point := range c.PointsForLine {
		index, err := strconv.Atoi(key)
		if err != nil {
			return Track{}, fmt.Errorf("waypoint key %q: %w", key, err)
		}

		points = append(points, indexed{index: index, point: point})
	}

	sort.Slice(points, func(i, j int) bool { return points[i].index < points[j].index })

	waypoints := make([]models.Coordinate, len(points))
	for i, p := range points {
		waypoints[i] = p.point
	}

	track := Track{
		ID:            id,
		Name:          name,
		Spawn:         models.Coordinate{X: c.CarStartingPosition[0], Y: c.CarStartingPosition[1], Z: c.CarStartingPosition[2]},
		StartAltitude: waypoints[0].Z + StartMargin,
		DeathAltitude: c.DeathPositionZ,
		GravityZ:      c.GravityZ,
		Waypoints:     waypoints,
	}

	return track.withDefaults(), nil
}

// ParseWaypointsCSV reads x,y,z rows with a header line.
func ParseWaypointsCSV(r io.Reader) ([]models.Coordinate, error) {
	var waypoints []models.Coordinate

	if err := gocsv.Unmarshal(r, &waypoints); err != nil {
		return nil, fmt.Errorf("parse waypoint CSV: %w", err)
	}

	if len(waypoints) == 0 {
		return nil, ErrNoWaypoints
	}

	return waypoints, nil
}

// WriteWaypointsCSV writes the track waypoints as x,y,z rows.
func WriteWaypointsCSV(w io.Writer, t Track) error {
	waypoints := t.Waypoints

	if err := gocsv.Marshal(&waypoints, w); err != nil {
		return fmt.Errorf("write waypoint CSV: %w", err)
	}

	return nil
}

// MarshalInventory encodes tracks into an inventory document.
func MarshalInventory(list []Track) ([]byte, error) {
	inventory := Inventory{Tracks: make(map[string]Track, len(list))}
	for _, t := range list {
		inventory.Tracks[t.ID] = t
	}

	return json.MarshalIndent(inventory, "", "  ")
}
