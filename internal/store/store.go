// Package store keeps the history of finished episodes in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var ErrEmptyOutcome = errors.New("episode outcome is empty")

// Outcomes stored by the decision service.
const (
	OutcomeWin  = "win"
	OutcomeLoss = "loss"
)

// schema.sql creates the episodes table and its indexes.
//
//go:embed schema.sql
var schemaSQL string

// Episode is one stored episode.
type Episode struct {
	ID               int64     `csv:"id" json:"id"`
	AgentID          string    `csv:"agent_id" json:"agent_id"`
	TrackID          string    `csv:"track" json:"track"`
	ProfileID        string    `csv:"profile" json:"profile"`
	Generation       uint64    `csv:"generation" json:"generation"`
	Outcome          string    `csv:"outcome" json:"outcome"`
	Reason           string    `csv:"reason" json:"reason,omitempty"`
	PercentCompleted float64   `csv:"percent_completed" json:"percent_completed"`
	ElapsedMs        int64     `csv:"elapsed_ms" json:"elapsed_ms"`
	Ticks            int       `csv:"ticks" json:"ticks"`
	Reward           float64   `csv:"reward" json:"reward"`
	EndedAt          time.Time `csv:"ended_at" json:"ended_at"`
}

// Filter narrows ListEpisodes and Summary. Zero fields match everything.
type Filter struct {
	AgentID string
	TrackID string
	Outcome string
	Limit   int
}

// Summary aggregates the episodes matching a filter.
type Summary struct {
	Episodes    int
	Wins        int
	Deaths      int
	Stagnations int
	// Losses counts episodes reported by the decision service, which only
	// knows win or loss.
	Losses           int
	AvgPercent       float64
	BestPercent      float64
	FastestWinMs     int64
	AvgReward        float64
	DistinctAgents   int
	LastEpisodeEnded time.Time
}

type Store struct {
	*sql.DB
}

// New opens or creates the database at path. Use ":memory:" for a throwaway
// store.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open episode store: %w", err)
	}

	// a single connection keeps ":memory:" databases alive and serialises
	// writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("create episode schema: %w", err)
	}

	return &Store{db}, nil
}

// RecordEpisode inserts an episode and returns its id.
func (s *Store) RecordEpisode(ctx context.Context, e Episode) (int64, error) {
	if e.Outcome == "" {
		return 0, ErrEmptyOutcome
	}

	if e.EndedAt.IsZero() {
		e.EndedAt = time.Now()
	}

	query := `
		INSERT INTO episodes (agent_id, track_id, profile_id, generation, outcome, reason,
			percent_completed, elapsed_ms, ticks, reward, ended_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.ExecContext(ctx, query,
		e.AgentID, e.TrackID, e.ProfileID, int64(e.Generation), e.Outcome, e.Reason,
		e.PercentCompleted, e.ElapsedMs, e.Ticks, e.Reward, e.EndedAt.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to insert episode: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get episode ID: %w", err)
	}

	return id, nil
}

func (f Filter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)

	if f.AgentID != "" {
		clauses = append(clauses, "agent_id = ?")
		args = append(args, f.AgentID)
	}

	if f.TrackID != "" {
		clauses = append(clauses, "track_id = ?")
		args = append(args, f.TrackID)
	}

	if f.Outcome != "" {
		clauses = append(clauses, "outcome = ?")
		args = append(args, f.Outcome)
	}

	if len(clauses) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListEpisodes returns matching episodes, newest first.
func (s *Store) ListEpisodes(ctx context.Context, f Filter) ([]Episode, error) {
	where, args := f.where()

	query := `
		SELECT id, agent_id, track_id, profile_id, generation, outcome, reason,
			percent_completed, elapsed_ms, ticks, reward, ended_at_ns
		FROM episodes` + where + ` ORDER BY ended_at_ns DESC, id DESC`

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query episodes: %w", err)
	}
	defer rows.Close()

	var episodes []Episode

	for rows.Next() {
		var (
			e          Episode
			generation int64
			endedAtNs  int64
		)

		if err := rows.Scan(&e.ID, &e.AgentID, &e.TrackID, &e.ProfileID, &generation, &e.Outcome, &e.Reason,
			&e.PercentCompleted, &e.ElapsedMs, &e.Ticks, &e.Reward, &endedAtNs); err != nil {
			return nil, fmt.Errorf("failed to scan episode: %w", err)
		}

		e.Generation = uint64(generation)
		e.EndedAt = time.Unix(0, endedAtNs).UTC()
		episodes = append(episodes, e)
	}

	return episodes, rows.Err()
}

// Summary aggregates the matching episodes. Limit is ignored.
func (s *Store) Summary(ctx context.Context, f Filter) (Summary, error) {
	where, args := f.where()

	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(outcome = 'win'), 0),
			COALESCE(SUM(outcome = 'death'), 0),
			COALESCE(SUM(outcome = 'stagnation'), 0),
			COALESCE(SUM(outcome = 'loss'), 0),
			COALESCE(AVG(percent_completed), 0),
			COALESCE(MAX(percent_completed), 0),
			COALESCE(MIN(CASE WHEN outcome = 'win' THEN elapsed_ms END), 0),
			COALESCE(AVG(reward), 0),
			COUNT(DISTINCT agent_id),
			COALESCE(MAX(ended_at_ns), 0)
		FROM episodes` + where

	var (
		sum       Summary
		lastEnded int64
	)

	err := s.QueryRowContext(ctx, query, args...).Scan(
		&sum.Episodes, &sum.Wins, &sum.Deaths, &sum.Stagnations, &sum.Losses,
		&sum.AvgPercent, &sum.BestPercent, &sum.FastestWinMs, &sum.AvgReward,
		&sum.DistinctAgents, &lastEnded)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to summarise episodes: %w", err)
	}

	if lastEnded > 0 {
		sum.LastEpisodeEnded = time.Unix(0, lastEnded).UTC()
	}

	return sum, nil
}
