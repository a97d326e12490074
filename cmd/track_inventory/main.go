package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zetetos/racetrack-env/internal/polyline"
	"github.com/zetetos/racetrack-env/pkg/tracks"
)

const usage = `Usage: track_inventory [flags] <tracks_directory> <output_file>

Collects track definitions into a single inventory file. The directory may hold
legacy JavaScript configs (*.js), single track documents (*.json) and complete
inventories (*.json with a "tracks" object). Every track is checked against the
inventory schema before it is written.

Flags:
`

var errDuplicateTrack = errors.New("duplicate track id")

type cliFlags struct {
	defaultID string
	csvDir    string
	noColor   bool
}

// TrackStats holds the checks for one track.
type TrackStats struct {
	ID               string
	Name             string
	Waypoints        int
	LengthMeters     float64
	MinZ, MaxZ       float64
	SpawnOffset      float64
	SpawnAboveStart  bool
	DeathBelowStart  bool
	DegenerateReason string
}

func parseCLI() (cliFlags, []string) {
	flags := cliFlags{}

	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}

	flag.StringVar(&flags.defaultID, "default", "", "Mark this track as the default")
	flag.StringVar(&flags.csvDir, "csv", "", "Also write each track's waypoints as CSV into this directory")
	flag.BoolVar(&flags.noColor, "no-color", false, "Disable colored output")
	flag.Parse()

	return flags, flag.Args()
}

func main() {
	flags, args := parseCLI()
	if len(args) != 2 {
		flag.Usage()
		os.Exit(1)
	}

	tracksDir := args[0]
	outputFile := args[1]
	colors := newColorPrinter(flags.noColor)

	// Process all track files
	list, err := processTrackFiles(tracksDir, outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error processing tracks: %v\n", err)
		os.Exit(1)
	}

	if len(list) == 0 {
		fmt.Fprintf(os.Stderr, "No tracks found in %s\n", tracksDir)
		os.Exit(1)
	}

	if err := markDefault(list, flags.defaultID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	stats := analyzeTracks(list)
	displayAnalysisResults(stats, colors)

	if flags.csvDir != "" {
		if err := writeWaypointFiles(list, flags.csvDir); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write CSV: %v\n", err)
			os.Exit(1)
		}
	}

	if err := writeInventoryFile(list, outputFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write output: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %d tracks to %s\n", len(list), outputFile)
}

// processTrackFiles reads every track definition below dir.
func processTrackFiles(dir, outputFile string) ([]tracks.Track, error) {
	byID := map[string]tracks.Track{}

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() || filepath.Base(path) == filepath.Base(outputFile) || strings.HasSuffix(path, "-schema.json") {
			return nil
		}

		var found []tracks.Track

		switch strings.ToLower(filepath.Ext(path)) {
		case ".js":
			found, err = readLegacyFile(path)
		case ".json":
			found, err = readJSONFile(path)
		default:
			return nil
		}

		if err != nil {
			fmt.Fprintf(os.Stderr, "Skipping %s: %v\n", path, err)

			return nil
		}

		for _, t := range found {
			if _, ok := byID[t.ID]; ok {
				return fmt.Errorf("%w %q in %s", errDuplicateTrack, t.ID, path)
			}

			byID[t.ID] = t
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	list := make([]tracks.Track, 0, len(byID))
	for _, t := range byID {
		list = append(list, t)
	}

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	return list, nil
}

func readLegacyFile(path string) ([]tracks.Track, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	base = strings.TrimSuffix(base, "Config")

	track, err := tracks.ParseJS(nameToID(base), nameToTitle(base), body)
	if err != nil {
		return nil, err
	}

	return []tracks.Track{track}, validate(track)
}

// readJSONFile accepts a full inventory or a single track document.
func readJSONFile(path string) ([]tracks.Track, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if _, ok := probe["tracks"]; ok {
		db, err := tracks.NewDB(body)
		if err != nil {
			return nil, err
		}

		var list []tracks.Track

		for _, id := range db.GetAllTrackIDs() {
			t, err := db.GetTrackByID(id)
			if err != nil {
				return nil, err
			}

			list = append(list, t)
		}

		return list, nil
	}

	var track tracks.Track
	if err := json.Unmarshal(body, &track); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	track.ID = nameToID(track.Name)

	return []tracks.Track{track}, validate(track)
}

// validate checks a single track against the inventory schema.
func validate(t tracks.Track) error {
	doc, err := tracks.MarshalInventory([]tracks.Track{t})
	if err != nil {
		return err
	}

	return tracks.Validate(doc)
}

func markDefault(list []tracks.Track, defaultID string) error {
	if defaultID == "" {
		for _, t := range list {
			if t.Default {
				return nil
			}
		}

		list[0].Default = true

		return nil
	}

	found := false

	for i := range list {
		list[i].Default = list[i].ID == defaultID
		found = found || list[i].Default
	}

	if !found {
		return fmt.Errorf("%w: %s", tracks.ErrTrackNotFound, defaultID)
	}

	return nil
}

// analyzeTracks measures every track and runs the sanity checks.
func analyzeTracks(list []tracks.Track) []TrackStats {
	stats := make([]TrackStats, 0, len(list))

	for _, t := range list {
		stat := TrackStats{
			ID:              t.ID,
			Name:            t.Name,
			Waypoints:       len(t.Waypoints),
			MinZ:            math.Inf(1),
			MaxZ:            math.Inf(-1),
			SpawnAboveStart: t.Spawn.Z > t.StartAltitude,
			DeathBelowStart: t.DeathAltitude < t.StartAltitude,
		}

		for _, wp := range t.Waypoints {
			stat.MinZ = math.Min(stat.MinZ, wp.Z)
			stat.MaxZ = math.Max(stat.MaxZ, wp.Z)
		}

		tracker, err := polyline.NewTracker(t.Vecs())
		if err != nil {
			stat.DegenerateReason = err.Error()
			stats = append(stats, stat)

			continue
		}

		stat.LengthMeters = tracker.Length()
		stat.SpawnOffset = horizontalOffset(tracker, t.Spawn.Vec())
		stats = append(stats, stat)
	}

	return stats
}

// horizontalOffset is the ground distance from pos to the start of the centre
// line.
func horizontalOffset(tracker *polyline.Tracker, pos mgl64.Vec3) float64 {
	loc := tracker.Locate(pos, 0)
	dz := pos.Z() - loc.ClosestPoint.Z()

	return math.Sqrt(math.Max(loc.Distance*loc.Distance-dz*dz, 0))
}

// displayAnalysisResults prints the analysis results in a formatted table.
func displayAnalysisResults(stats []TrackStats, colors *colorPrinter) {
	fmt.Println(colors.Cyan("\n=== ANALYSIS: Track Geometry ==="))

	nameWidth := len("Track")
	for _, s := range stats {
		nameWidth = max(nameWidth, len(s.ID))
	}

	nameWidth += 2

	fmt.Printf("%-*s %6s %9s %13s %8s %6s %6s\n", nameWidth, "Track", "Points", "Length", "Altitude", "Spawn", "Drop", "Death")
	fmt.Printf("%s %s %s %s %s %s %s\n", strings.Repeat("-", nameWidth), "------", "---------", "-------------", "--------", "------", "------")

	problems := 0

	for _, s := range stats {
		if s.DegenerateReason != "" {
			problems++

			fmt.Printf("%-*s %6d %s\n", nameWidth, s.ID, s.Waypoints, colors.Red(s.DegenerateReason))

			continue
		}

		drop := colors.Check(s.SpawnAboveStart, "low", 6)
		death := colors.Check(s.DeathBelowStart, "high", 6)

		for _, passed := range []bool{s.SpawnAboveStart, s.DeathBelowStart} {
			if !passed {
				problems++
			}
		}

		spawn := fmt.Sprintf("%7.1fm", s.SpawnOffset)
		if s.SpawnOffset > 1 {
			spawn = colors.Yellow(spawn)
		}

		fmt.Printf("%-*s %6d %8.1fm %6.1f-%-6.1f %s %s %s\n",
			nameWidth, s.ID, s.Waypoints, s.LengthMeters, s.MinZ, s.MaxZ, spawn, drop, death)
	}

	if problems > 0 {
		fmt.Println(colors.Red(fmt.Sprintf("\n%d problems found.", problems)))
	} else {
		fmt.Println(colors.Green("\nAll tracks passed the checks."))
	}
}

func writeWaypointFiles(list []tracks.Track, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, t := range list {
		fh, err := os.Create(filepath.Join(dir, t.ID+".csv"))
		if err != nil {
			return err
		}

		if err := tracks.WriteWaypointsCSV(fh, t); err != nil {
			_ = fh.Close()

			return err
		}

		if err := fh.Close(); err != nil {
			return err
		}
	}

	return nil
}

// writeInventoryFile validates and writes the combined inventory.
func writeInventoryFile(list []tracks.Track, outputFile string) error {
	outData, err := tracks.MarshalInventory(list)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}

	if err := tracks.Validate(outData); err != nil {
		return err
	}

	err = os.WriteFile(outputFile, append(outData, '\n'), 0o644) //nolint:gosec // inventory is not sensitive
	if err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	return nil
}

// splitWords breaks a file or display name into words, splitting camel case.
func splitWords(name string) []string {
	var (
		words   []string
		current []rune
	)

	flush := func() {
		if len(current) > 0 {
			words = append(words, string(current))
			current = nil
		}
	}

	runes := []rune(name)
	for i, r := range runes {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]):
			flush()

			current = append(current, r)
		default:
			current = append(current, r)
		}
	}

	flush()

	return words
}

// nameToID converts a name to a kebab case track ID.
func nameToID(name string) string {
	words := splitWords(name)
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}

	return strings.Join(words, "-")
}

// nameToTitle converts a name to space separated words, upper casing short
// acronyms.
func nameToTitle(name string) string {
	words := splitWords(name)
	for i, w := range words {
		if len(w) <= 3 {
			words[i] = strings.ToUpper(w)

			continue
		}

		runes := []rune(w)
		words[i] = string(unicode.ToUpper(runes[0])) + string(runes[1:])
	}

	return strings.Join(words, " ")
}
