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

	"github.com/zetetos/racetrack-env/internal/bridge"
	"github.com/zetetos/racetrack-env/internal/policy"
	"github.com/zetetos/racetrack-env/internal/store"
	"github.com/zetetos/racetrack-env/pkg/profiles"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var (
		addr           string
		profileID      string
		difficulty     string
		seed           uint64
		trainFrequency int
		storePath      string
		chartPath      string
		trackID        string
		logLevel       string
	)

	flag.StringVar(&addr, "addr", ":5000", "Listen address")
	flag.StringVar(&profileID, "profile", "ppo-v2", "Environment profile the agents run with")
	flag.StringVar(&difficulty, "difficulty", "beginner", "Policy model: "+strings.Join(policy.Difficulties(), ", "))
	flag.Uint64Var(&seed, "seed", 1, "Action sampling seed")
	flag.IntVar(&trainFrequency, "train-frequency", bridge.DefaultTrainFrequency, "Completed games per training batch")
	flag.StringVar(&storePath, "db", "", "SQLite file for the episode history")
	flag.StringVar(&chartPath, "chart", "statistics.png", "Training chart written after every batch, empty to disable")
	flag.StringVar(&trackID, "track", "", "Track ID recorded with stored episodes")
	flag.StringVar(&logLevel, "log-level", "info", "Log level")
	flag.Parse()

	lvl, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		lvl = zerolog.WarnLevel
	}

	logger := zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()

	profileDB, err := profiles.NewDB(nil)
	if err != nil {
		log.Fatalf("Failed to load profiles: %v", err)
	}

	profile, err := profileDB.GetProfileByID(profileID)
	if err != nil {
		log.Fatalf("Failed to load profile: %v", err)
	}

	mappings, err := profile.Mappings()
	if err != nil {
		log.Fatalf("Invalid action mappings: %v", err)
	}

	model, err := policy.LoadDifficulty(difficulty)
	if err != nil {
		log.Fatalf("Failed to load policy: %v", err)
	}

	if model.Inputs() != profile.StateSpace {
		log.Fatalf("Policy %s expects %d inputs, profile %s has %d features", difficulty, model.Inputs(), profile.ID, profile.StateSpace)
	}

	opts := bridge.Options{
		Policy: policy.NewLocalDecider(policy.DeciderOptions{
			Model:      model,
			Mappings:   mappings,
			ActionList: profile.ActionsList,
			Seed:       seed,
			Logger:     logger,
		}),
		Mappings:       mappings,
		ActionList:     profile.ActionsList,
		TrainFrequency: trainFrequency,
		TrackID:        trackID,
		ProfileID:      profile.ID,
		ChartPath:      chartPath,
		Logger:         logger,
	}

	if storePath != "" {
		st, err := store.New(storePath)
		if err != nil {
			log.Fatalf("Failed to open episode store: %v", err)
		}
		defer st.Close()

		opts.Store = st
	}

	server, err := bridge.New(opts)
	if err != nil {
		log.Fatalf("Failed to create decision service: %v", err)
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down: %v", err)
		}
	}()

	fmt.Printf("Decision service listening on %s (profile %s, policy %s)\n", addr, profile.ID, difficulty)

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("Server stopped: %v", err)
	}

	stats := server.Stats()
	fmt.Printf("Completed games: %d, training rounds: %d\n", stats.TotalCompletedGames, stats.TrainingRounds)
}
