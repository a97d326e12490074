package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/zetetos/racetrack-env/internal/store"
)

const usage = `Usage: episode_report [flags] <episodes.db>

Summarises the episode history written by trackenv and trainer_bridge and
optionally exports the matching episodes as CSV.

Flags:
`

var errNoEpisodes = errors.New("no episodes match the filter")

type cliFlags struct {
	agentID string
	trackID string
	outcome string
	limit   int
	csvFile string
	noColor bool
}

func parseCLI() (cliFlags, []string) {
	flags := cliFlags{}

	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}

	flag.StringVar(&flags.agentID, "agent", "", "Only episodes of this agent")
	flag.StringVar(&flags.trackID, "track", "", "Only episodes on this track")
	flag.StringVar(&flags.outcome, "outcome", "", "Only episodes with this outcome (win, death, stagnation, loss)")
	flag.IntVar(&flags.limit, "limit", 10, "Number of recent episodes to list, 0 lists all")
	flag.StringVar(&flags.csvFile, "csv", "", "Export the matching episodes to this CSV file, - for stdout")
	flag.BoolVar(&flags.noColor, "no-color", false, "Disable colored output")
	flag.Parse()

	return flags, flag.Args()
}

func main() {
	flags, args := parseCLI()
	if len(args) != 1 {
		flag.Usage()
		os.Exit(1)
	}

	if err := run(args[0], flags, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(dbPath string, flags cliFlags, out io.Writer) error {
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("episode store: %w", err)
	}

	st, err := store.New(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	colors := newColorPrinter(flags.noColor)
	filter := store.Filter{AgentID: flags.agentID, TrackID: flags.trackID, Outcome: flags.outcome}

	summary, err := st.Summary(ctx, filter)
	if err != nil {
		return err
	}

	if summary.Episodes == 0 {
		return errNoEpisodes
	}

	printSummary(out, summary, colors)

	if flags.limit >= 0 {
		recent := filter
		recent.Limit = flags.limit

		episodes, err := st.ListEpisodes(ctx, recent)
		if err != nil {
			return err
		}

		printEpisodes(out, episodes, colors)
	}

	if flags.csvFile != "" {
		episodes, err := st.ListEpisodes(ctx, filter)
		if err != nil {
			return err
		}

		if err := exportCSV(flags.csvFile, episodes, out); err != nil {
			return err
		}
	}

	return nil
}

func printSummary(out io.Writer, s store.Summary, colors *colorPrinter) {
	rate := float64(s.Wins) / float64(s.Episodes) * 100

	fmt.Fprintln(out, colors.Cyan("=== Episode summary ==="))
	fmt.Fprintf(out, "Episodes:        %d from %d agents\n", s.Episodes, s.DistinctAgents)
	fmt.Fprintf(out, "Wins:            %s (%.1f%%)\n", colors.Green(fmt.Sprint(s.Wins)), rate)
	fmt.Fprintf(out, "Deaths:          %s\n", colors.Red(fmt.Sprint(s.Deaths)))
	fmt.Fprintf(out, "Stagnations:     %s\n", colors.Yellow(fmt.Sprint(s.Stagnations)))

	if s.Losses > 0 {
		fmt.Fprintf(out, "Losses:          %s\n", colors.Red(fmt.Sprint(s.Losses)))
	}

	fmt.Fprintf(out, "Avg completion:  %.1f%%\n", s.AvgPercent)
	fmt.Fprintf(out, "Best completion: %.1f%%\n", s.BestPercent)

	if s.FastestWinMs > 0 {
		fmt.Fprintf(out, "Fastest win:     %s\n", (time.Duration(s.FastestWinMs) * time.Millisecond).String())
	}

	fmt.Fprintf(out, "Avg reward:      %.2f\n", s.AvgReward)
	fmt.Fprintf(out, "Last episode:    %s\n", s.LastEpisodeEnded.Format(time.RFC3339))
}

func printEpisodes(out io.Writer, episodes []store.Episode, colors *colorPrinter) {
	fmt.Fprintln(out, colors.Cyan("\n=== Recent episodes ==="))
	fmt.Fprintf(out, "%-20s %-12s %-16s %-11s %8s %9s\n", "Ended", "Agent", "Track", "Outcome", "Percent", "Elapsed")

	for _, e := range episodes {
		fmt.Fprintf(out, "%-20s %-12s %-16s %s %7.1f%% %8.2fs\n",
			e.EndedAt.Format("2006-01-02 15:04:05"), truncate(e.AgentID, 12), truncate(e.TrackID, 16),
			colors.Outcome(e.Outcome, 11), e.PercentCompleted, float64(e.ElapsedMs)/1000)
	}
}

func exportCSV(path string, episodes []store.Episode, stdout io.Writer) error {
	if path == "-" {
		return gocsv.Marshal(&episodes, stdout)
	}

	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create CSV: %w", err)
	}
	defer fh.Close()

	if err := gocsv.MarshalFile(&episodes, fh); err != nil {
		return fmt.Errorf("write CSV: %w", err)
	}

	fmt.Fprintf(stdout, "\nExported %d episodes to %s\n", len(episodes), path)

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n-1] + "~"
}
