package racetrack

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/zetetos/racetrack-env/internal/store"
)

// episodeStoreTimeout bounds a single episode insert.
const episodeStoreTimeout = 5 * time.Second

// Episode converts the result into a stored episode row.
func (r EpisodeResult) Episode() store.Episode {
	return store.Episode{
		AgentID:          r.AgentID,
		TrackID:          r.TrackID,
		ProfileID:        r.ProfileID,
		Generation:       r.Generation,
		Outcome:          r.Outcome.String(),
		Reason:           r.Reason,
		PercentCompleted: r.PercentCompleted,
		ElapsedMs:        r.Elapsed.Milliseconds(),
		Ticks:            r.Ticks,
		EndedAt:          r.EndedAt,
	}
}

// StoreEpisodes returns an OnEpisodeEnd callback that records every finished
// episode in st. Failures are logged.
func StoreEpisodes(st *store.Store, log zerolog.Logger) func(EpisodeResult) {
	return func(r EpisodeResult) {
		ctx, cancel := context.WithTimeout(context.Background(), episodeStoreTimeout)
		defer cancel()

		id, err := st.RecordEpisode(ctx, r.Episode())
		if err != nil {
			log.Error().Err(err).Str("outcome", r.Outcome.String()).Msg("failed to store episode")

			return
		}

		log.Debug().Int64("id", id).Str("outcome", r.Outcome.String()).Msg("episode stored")
	}
}
