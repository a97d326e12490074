package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	racetrack "github.com/zetetos/racetrack-env"
	"github.com/zetetos/racetrack-env/internal/decision"
	"github.com/zetetos/racetrack-env/internal/display"
	"github.com/zetetos/racetrack-env/internal/physics"
	"github.com/zetetos/racetrack-env/internal/policy"
	"github.com/zetetos/racetrack-env/internal/reader"
	"github.com/zetetos/racetrack-env/internal/store"
	"github.com/zetetos/racetrack-env/pkg/profiles"
	"github.com/zetetos/racetrack-env/pkg/tracks"
)

const progressEvery = 300

func main() {
	var (
		source    string
		outFile   string
		trackID   string
		profileID string
		storePath string
		logLevel  string
	)

	flag.StringVar(&source, "source", reader.DefaultSource, "Snapshot source, udp://host:port or file://path")
	flag.StringVar(&outFile, "o", "", "Capture the snapshots to a .trr or .trz file")
	flag.StringVar(&trackID, "track", "", "Track ID, empty for the default track")
	flag.StringVar(&profileID, "profile", racetrack.DefaultProfile, "Environment profile ID")
	flag.StringVar(&storePath, "db", "", "SQLite file for the episode history")
	flag.StringVar(&logLevel, "log-level", "warn", "Log level")
	flag.Parse()

	// Validate file extension
	if outFile != "" {
		if ext := filepath.Ext(outFile); ext != reader.ExtRaw && ext != reader.ExtCompressed {
			log.Fatalf("Unsupported file extension %q, use either %s or %s", ext, reader.ExtRaw, reader.ExtCompressed)
		}
	}

	lvl, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		lvl = zerolog.WarnLevel
	}

	logger := zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()

	trackDB, err := tracks.NewDB(nil)
	if err != nil {
		log.Fatalf("Failed to load tracks: %v", err)
	}

	track, err := trackDB.GetDefaultTrack()
	if trackID != "" {
		track, err = trackDB.GetTrackByID(trackID)
	}

	if err != nil {
		log.Fatalf("Failed to load track: %v", err)
	}

	profileDB, err := profiles.NewDB(nil)
	if err != nil {
		log.Fatalf("Failed to load profiles: %v", err)
	}

	profile, err := profileDB.GetProfileByID(profileID)
	if err != nil {
		log.Fatalf("Failed to load profile: %v", err)
	}

	envOpts := racetrack.Options{
		Logger:  &logger,
		Track:   track,
		Profile: profile,
		Decider: newObserver(profile, logger),
	}

	if storePath != "" {
		st, err := store.New(storePath)
		if err != nil {
			log.Fatalf("Failed to open episode store: %v", err)
		}
		defer st.Close()

		envOpts.OnEpisodeEnd = racetrack.StoreEpisodes(st, logger)
	}

	env, err := racetrack.New(envOpts)
	if err != nil {
		log.Fatalf("Error creating environment: %v", err)
	}
	defer env.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Waiting for snapshots from %s...\n", source)

	snapshots := 0

	for {
		finished, err := replay(ctx, source, env, outFile, logger, &snapshots)
		if err == nil || finished {
			break
		}

		log.Printf("Recoverable error: %s", err.Error())
		time.Sleep(1 * time.Second)
	}

	stats := env.Stats()
	fmt.Printf("Replay complete, total snapshots: %d\n", snapshots)
	fmt.Printf("Episodes: %d (wins %d, deaths %d, stagnations %d)\n",
		stats.Episodes, stats.Wins, stats.Deaths, stats.Stagnations)
}

// replay runs the environment against one connection to source. It reports
// finished when the source ended or cannot be retried.
func replay(ctx context.Context, source string, env *racetrack.Environment, outFile string, logger zerolog.Logger, snapshots *int) (finished bool, err error) {
	src, recoverable, err := reader.Open(source, logger)
	if err != nil {
		if !recoverable {
			log.Printf("Snapshot source failed: %s", err.Error())
		}

		return !recoverable, err
	}

	provider := physics.NewReplay(src, logger)
	defer provider.Close()

	runner, err := racetrack.NewRunner(racetrack.RunnerOptions{
		Environment: env,
		Physics:     provider,
		Display:     progress{snapshots: snapshots},
		Logger:      &logger,
		SettleDelay: -1,
	})
	if err != nil {
		return true, err
	}

	if outFile != "" {
		fmt.Printf("Starting capture to %s\n", outFile)

		if err := runner.StartRecording(outFile); err != nil {
			log.Fatalf("Failed to start recording: %v", err)
		}

		defer func() {
			if err := runner.StopRecording(); err != nil {
				log.Printf("Error stopping recording: %v", err)
			}
		}()
	}

	err, recoverable = runner.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		if recoverable {
			return false, err
		}

		log.Printf("Replay stopped: %s", err.Error())
	}

	if provider.Invalid() > 0 {
		fmt.Printf("Skipped %d invalid records\n", provider.Invalid())
	}

	return true, nil
}

// newObserver answers decision requests from the bundled beginner policy. A
// replay cannot act on the answers; they only keep the request flow realistic.
func newObserver(profile profiles.Profile, logger zerolog.Logger) decision.Decider {
	model, err := policy.LoadDifficulty("beginner")
	if err != nil {
		log.Fatalf("Failed to load policy: %v", err)
	}

	mappings, err := profile.Mappings()
	if err != nil {
		log.Fatalf("Invalid action mappings: %v", err)
	}

	return policy.NewLocalDecider(policy.DeciderOptions{
		Model:      model,
		Mappings:   mappings,
		ActionList: profile.ActionsList,
		Logger:     logger,
	})
}

// progress counts snapshots and prints a progress line.
type progress struct {
	snapshots *int
}

func (p progress) Push(u display.Update) error {
	*p.snapshots++

	if *p.snapshots%progressEvery == 0 {
		fmt.Printf("%d snapshots replayed, %s %.1f%% %ss\n", *p.snapshots, u.Phase, u.PercentCompleted, u.Timer())
	}

	if u.Outcome != "" {
		fmt.Printf("Episode ended: %s at %.1f%% after %ss\n", u.Outcome, u.PercentCompleted, u.Timer())
	}

	return nil
}
