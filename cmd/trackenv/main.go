package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	racetrack "github.com/zetetos/racetrack-env"
	"github.com/zetetos/racetrack-env/internal/decision"
	"github.com/zetetos/racetrack-env/internal/display"
	"github.com/zetetos/racetrack-env/internal/physics"
	"github.com/zetetos/racetrack-env/internal/policy"
	"github.com/zetetos/racetrack-env/internal/store"
	"github.com/zetetos/racetrack-env/pkg/profiles"
	"github.com/zetetos/racetrack-env/pkg/tracks"
)

const displayLogInterval = time.Second

// Config holds the application configuration
type Config struct {
	TrackID     string
	TracksFile  string
	ProfileID   string
	ServiceURL  string
	Difficulty  string
	Seed        uint64
	AgentID     string
	RecordFile  string
	DisplayAddr string
	StorePath   string
	LogLevel    string
	MaxTicks    int
}

func parseFlags() *Config {
	config := &Config{}

	flag.StringVar(&config.TrackID, "track", "", "Track ID, empty for the default track")
	flag.StringVar(&config.TracksFile, "tracks", "", "Track inventory JSON file, empty for the bundled inventory")
	flag.StringVar(&config.ProfileID, "profile", racetrack.DefaultProfile, "Environment profile ID")
	flag.StringVar(&config.ServiceURL, "service", "", "Decision service URL, empty to drive with a local policy")
	flag.StringVar(&config.Difficulty, "difficulty", "beginner", "Local policy model: "+strings.Join(policy.Difficulties(), ", "))
	flag.Uint64Var(&config.Seed, "seed", 1, "Local policy sampling seed")
	flag.StringVar(&config.AgentID, "agent", "", "Agent ID sent to the decision service, random when empty")
	flag.StringVar(&config.RecordFile, "record", "", "Record snapshots to a .trr or .trz file")
	flag.StringVar(&config.DisplayAddr, "display", "", "Serve the live display websocket on this address, e.g. :8090")
	flag.StringVar(&config.StorePath, "db", "", "SQLite file for the episode history")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level")
	flag.IntVar(&config.MaxTicks, "ticks", 0, "Stop after this many ticks, 0 runs until interrupted")
	flag.Parse()

	return config
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.WarnLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(lvl).With().Timestamp().Logger()
}

func loadTrack(config *Config) (tracks.Track, error) {
	var inventoryJSON []byte

	if config.TracksFile != "" {
		var err error

		inventoryJSON, err = os.ReadFile(config.TracksFile)
		if err != nil {
			return tracks.Track{}, fmt.Errorf("reading track inventory: %w", err)
		}
	}

	db, err := tracks.NewDB(inventoryJSON)
	if err != nil {
		return tracks.Track{}, err
	}

	if config.TrackID == "" {
		return db.GetDefaultTrack()
	}

	return db.GetTrackByID(config.TrackID)
}

func newDecider(config *Config, profile profiles.Profile, logger zerolog.Logger) (decision.Decider, error) {
	if config.ServiceURL != "" {
		return decision.NewClient(decision.Options{
			BaseURL:      config.ServiceURL,
			AgentID:      config.AgentID,
			PollInterval: profile.UnpausePoll(),
			Logger:       logger,
		}), nil
	}

	model, err := policy.LoadDifficulty(config.Difficulty)
	if err != nil {
		return nil, err
	}

	mappings, err := profile.Mappings()
	if err != nil {
		return nil, err
	}

	return policy.NewLocalDecider(policy.DeciderOptions{
		Model:      model,
		Mappings:   mappings,
		ActionList: profile.ActionsList,
		Seed:       config.Seed,
		Logger:     logger,
	}), nil
}

func main() {
	config := parseFlags()
	logger := newLogger(config.LogLevel)

	track, err := loadTrack(config)
	if err != nil {
		log.Fatalf("Failed to load track: %v", err)
	}

	profileDB, err := profiles.NewDB(nil)
	if err != nil {
		log.Fatalf("Failed to load profiles: %v", err)
	}

	profile, err := profileDB.GetProfileByID(config.ProfileID)
	if err != nil {
		log.Fatalf("Failed to load profile: %v", err)
	}

	decider, err := newDecider(config, profile, logger)
	if err != nil {
		log.Fatalf("Failed to set up decider: %v", err)
	}

	envOpts := racetrack.Options{
		Logger:  &logger,
		Track:   track,
		Profile: profile,
		Decider: decider,
		AgentID: config.AgentID,
	}

	if config.StorePath != "" {
		st, err := store.New(config.StorePath)
		if err != nil {
			log.Fatalf("Failed to open episode store: %v", err)
		}
		defer st.Close()

		envOpts.OnEpisodeEnd = racetrack.StoreEpisodes(st, logger)
	}

	sink := display.Multi{display.NewLogSink(logger, displayLogInterval)}

	if config.DisplayAddr != "" {
		hub := display.NewHub(logger)
		defer hub.Close()

		envOpts.Visualizer = hub
		sink = append(sink, hub)

		mux := http.NewServeMux()
		mux.Handle("/ws", hub)

		server := &http.Server{Addr: config.DisplayAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		defer server.Close()

		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("display server stopped")
			}
		}()

		fmt.Printf("Live display on ws://%s/ws\n", config.DisplayAddr)
	}

	env, err := racetrack.New(envOpts)
	if err != nil {
		log.Fatalf("Failed to create environment: %v", err)
	}
	defer env.Close()

	spawn, heading := env.Spawn()
	provider := physics.NewKinematic(physics.DefaultKinematicConfig(), env.Meshes(), spawn, heading)
	defer provider.Close()

	runner, err := racetrack.NewRunner(racetrack.RunnerOptions{
		Environment: env,
		Physics:     provider,
		Display:     sink,
		Logger:      &logger,
		MaxTicks:    config.MaxTicks,
	})
	if err != nil {
		log.Fatalf("Failed to create runner: %v", err)
	}

	if config.RecordFile != "" {
		if err := runner.StartRecording(config.RecordFile); err != nil {
			log.Fatalf("Failed to start recording: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Driving %s with profile %s as agent %s\n", track.Name, profile.ID, env.AgentID())

	for {
		err, recoverable := runner.Run(ctx)
		if err != nil && recoverable {
			log.Printf("Recoverable error: %s", err.Error())
			time.Sleep(1 * time.Second)

			continue
		}

		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Environment stopped: %s", err.Error())
		}

		break
	}

	if runner.IsRecording() {
		if err := runner.StopRecording(); err != nil {
			log.Printf("Error stopping recording: %v", err)
		}
	}

	stats := env.Stats()
	fmt.Printf("\nTicks: %d, episodes: %d (wins %d, deaths %d, stagnations %d)\n",
		runner.Ticks(), stats.Episodes, stats.Wins, stats.Deaths, stats.Stagnations)
	fmt.Printf("Requests sent: %d, dropped: %d, applied: %d, stale: %d, errors: %d\n",
		stats.RequestsSent, stats.RequestsDropped, stats.ResponsesApplied, stats.ResponsesStale, stats.ResponseErrors)
}
