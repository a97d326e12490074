// Package bridge is a reference decision service. It answers get_action calls
// from any number of agents with a policy, turns consecutive observations into
// rewarded transitions for a learner, and pauses every agent at the end of an
// episode until a training round has run.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/zetetos/racetrack-env/internal/decision"
	"github.com/zetetos/racetrack-env/internal/httputil"
	"github.com/zetetos/racetrack-env/internal/policy"
	"github.com/zetetos/racetrack-env/internal/store"
)

// DefaultTrainFrequency is the number of completed games per training batch.
const DefaultTrainFrequency = 20

// PercentFeature is the observation feature rewards are computed from. The
// first feature is used when it is absent.
const PercentFeature = "percentOfTrackCompleted"

var (
	ErrNoPolicy         = errors.New("bridge needs a policy")
	ErrEmptyObservation = errors.New("observation is empty")
)

type Options struct {
	Policy         Policy
	Learner        Learner
	Mappings       map[int]map[string]bool
	ActionList     []string
	TrainFrequency int
	// Store receives every completed episode when set.
	Store     *store.Store
	TrackID   string
	ProfileID string
	// ChartPath is rewritten after every training batch when set.
	ChartPath string
	Logger    zerolog.Logger
}

// ActionRequest is the get_action body.
type ActionRequest struct {
	AgentID            string               `json:"agent_id"`
	Observation        decision.Observation `json:"observation"`
	Done               bool                 `json:"done"`
	Win                bool                 `json:"win"`
	TimeSinceGameStart int64                `json:"time_since_game_start"`
	Generation         uint64               `json:"generation"`
	Seq                uint64               `json:"seq"`
}

// ActionResponse is the get_action reply.
type ActionResponse struct {
	Action map[string]bool `json:"action"`
	Pause  bool            `json:"pause"`
}

// Statistics is the service state reported on /statistics.
type Statistics struct {
	Agents              int            `json:"agents"`
	Paused              int            `json:"paused"`
	TotalCompletedGames int            `json:"total_completed_games"`
	BatchGames          int            `json:"batch_games"`
	TrainFrequency      int            `json:"train_frequency"`
	TrainingRounds      int            `json:"training_rounds"`
	Averages            []BatchAverage `json:"averages"`
}

type agentState struct {
	lastState     []float64
	lastPercent   float64
	lastAction    int
	lastValue     float64
	hasLast       bool
	paused        bool
	episodeReward float64
}

type Server struct {
	policy         Policy
	learner        Learner
	mappings       map[int]map[string]bool
	actionList     []string
	trainFrequency int
	store          *store.Store
	trackID        string
	profileID      string
	chartPath      string
	log            zerolog.Logger
	writer         httputil.Writer

	mu             sync.Mutex
	agents         map[string]*agentState
	training       bool
	forceTrain     bool
	totalCompleted int
	batchPercents  []float64
	batchRewards   []float64
	averages       []BatchAverage
	rounds         int
}

func New(opts Options) (*Server, error) {
	if opts.Policy == nil {
		return nil, ErrNoPolicy
	}

	if opts.Learner == nil {
		opts.Learner = &BufferLearner{}
	}

	if opts.TrainFrequency <= 0 {
		opts.TrainFrequency = DefaultTrainFrequency
	}

	return &Server{
		policy:         opts.Policy,
		learner:        opts.Learner,
		mappings:       opts.Mappings,
		actionList:     opts.ActionList,
		trainFrequency: opts.TrainFrequency,
		store:          opts.Store,
		trackID:        opts.TrackID,
		profileID:      opts.ProfileID,
		chartPath:      opts.ChartPath,
		log:            opts.Logger,
		writer:         httputil.NewWriter(opts.Logger),
		agents:         make(map[string]*agentState),
	}, nil
}

// Routes sets up the HTTP routes.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))
	r.Use(s.loggingMiddleware)
	r.Use(corsMiddleware)

	r.Post("/get_action", s.handleGetAction)
	r.Get("/check_unpause", s.handleCheckUnpause)
	r.Post("/start_training", s.handleStartTraining)
	r.Get("/statistics", s.handleStatistics)
	r.Get("/statistics.png", s.handleChart)

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Trace().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request completed")
	})
}

// corsMiddleware lets browser agents on other origins call the service.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writer.BadRequest(w, fmt.Sprintf("invalid body: %v", err))

		return
	}

	if req.AgentID == "" {
		s.writer.BadRequest(w, "agent_id is required")

		return
	}

	resp, err := s.Decide(r.Context(), req)
	if err != nil {
		s.log.Error().Err(err).Str("agent_id", req.AgentID).Msg("failed to choose action")
		s.writer.Error(w, http.StatusUnprocessableEntity, err.Error())

		return
	}

	s.writer.OK(w, resp)
}

func (s *Server) handleCheckUnpause(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		s.writer.BadRequest(w, "agent_id is required")

		return
	}

	s.writer.OK(w, map[string]bool{"unpause": s.CheckUnpause(agentID)})
}

func (s *Server) handleStartTraining(w http.ResponseWriter, _ *http.Request) {
	s.StartTraining()
	s.writer.OK(w, map[string]bool{"scheduled": true})
}

func (s *Server) handleStatistics(w http.ResponseWriter, _ *http.Request) {
	s.writer.OK(w, s.Stats())
}

func (s *Server) handleChart(w http.ResponseWriter, _ *http.Request) {
	averages := s.Stats().Averages

	w.Header().Set("Content-Type", "image/png")

	if err := WriteChartPNG(w, averages); err != nil {
		s.log.Error().Err(err).Msg("failed to render chart")
	}
}

// Reward is -1 for a lost episode and otherwise the progress made since the
// previous observation, in percent.
func Reward(lastPercent, percent float64, done, win bool) float64 {
	if done && !win {
		return -1
	}

	return percent - lastPercent
}

func completion(obs decision.Observation) float64 {
	if v, ok := obs.Get(PercentFeature); ok {
		return v * 100
	}

	return obs.Values[0] * 100
}

// Decide records the transition that led to req and picks the next action. A
// terminal request pauses the agent.
func (s *Server) Decide(ctx context.Context, req ActionRequest) (ActionResponse, error) {
	if req.Observation.Len() == 0 {
		return ActionResponse{}, ErrEmptyObservation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[req.AgentID]
	if !ok {
		agent = &agentState{}
		s.agents[req.AgentID] = agent

		s.log.Info().Str("agent_id", req.AgentID).Msg("agent joined")
	}

	observation := append([]float64(nil), req.Observation.Values...)
	percent := completion(req.Observation)

	if agent.hasLast {
		reward := Reward(agent.lastPercent, percent, req.Done, req.Win)
		agent.episodeReward += reward

		s.learner.Remember(Transition{
			AgentID: req.AgentID,
			State:   agent.lastState,
			Action:  agent.lastAction,
			Value:   agent.lastValue,
			Reward:  reward,
			Done:    req.Done,
		})
	}

	action, value, err := s.policy.ChooseAction(observation)
	if err != nil {
		return ActionResponse{}, fmt.Errorf("choose action: %w", err)
	}

	agent.lastState = observation
	agent.lastPercent = percent
	agent.lastAction = action
	agent.lastValue = value
	agent.hasLast = true

	resp := ActionResponse{Action: policy.ActionDict(action, s.mappings, s.actionList)}

	if !req.Done {
		return resp, nil
	}

	s.totalCompleted++
	s.batchPercents = append(s.batchPercents, percent)
	s.batchRewards = append(s.batchRewards, agent.episodeReward)
	s.persist(ctx, req, percent, agent.episodeReward)

	s.log.Info().
		Str("agent_id", req.AgentID).
		Bool("win", req.Win).
		Float64("percent", percent).
		Float64("reward", agent.episodeReward).
		Int("batch", len(s.batchPercents)).
		Msg("game completed")

	agent.hasLast = false
	agent.episodeReward = 0
	agent.paused = true
	resp.Pause = true

	return resp, nil
}

func (s *Server) persist(ctx context.Context, req ActionRequest, percent, reward float64) {
	if s.store == nil {
		return
	}

	outcome := store.OutcomeLoss
	if req.Win {
		outcome = store.OutcomeWin
	}

	_, err := s.store.RecordEpisode(ctx, store.Episode{
		AgentID:          req.AgentID,
		TrackID:          s.trackID,
		ProfileID:        s.profileID,
		Generation:       req.Generation,
		Outcome:          outcome,
		PercentCompleted: percent,
		ElapsedMs:        req.TimeSinceGameStart,
		Reward:           reward,
	})
	if err != nil {
		s.log.Error().Err(err).Str("agent_id", req.AgentID).Msg("failed to store episode")
	}
}

// CheckUnpause reports whether agentID may resume. Once every known agent is
// paused a training round runs and all agents are released.
func (s *Server) CheckUnpause(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.allPaused() && !s.training {
		s.training = true
		s.train()

		for _, agent := range s.agents {
			agent.paused = false
		}

		s.training = false

		return true
	}

	agent, ok := s.agents[agentID]

	return ok && !agent.paused
}

func (s *Server) allPaused() bool {
	for _, agent := range s.agents {
		if !agent.paused {
			return false
		}
	}

	return true
}

// train runs with the lock held.
func (s *Server) train() {
	batch := len(s.batchPercents)
	force := s.forceTrain
	s.forceTrain = false

	if batch == 0 || (batch < s.trainFrequency && !force) {
		s.log.Info().Int("completed", batch).Int("needed", s.trainFrequency).Msg("not enough games completed for training")

		return
	}

	avg := BatchAverage{
		TotalGames: s.totalCompleted,
		AvgReward:  stat.Mean(s.batchRewards, nil),
		AvgPercent: stat.Mean(s.batchPercents, nil),
	}

	s.averages = append(s.averages, avg)
	s.batchPercents = s.batchPercents[:0]
	s.batchRewards = s.batchRewards[:0]

	if s.chartPath != "" {
		if err := SaveChart(s.chartPath, s.averages); err != nil {
			s.log.Error().Err(err).Msg("failed to plot statistics")
		}
	}

	learned, err := s.learner.Learn(s.totalCompleted, avg.AvgPercent)
	if err != nil {
		s.log.Error().Err(err).Msg("training failed")
	}

	s.rounds++

	s.log.Info().
		Int("games", s.totalCompleted).
		Float64("avg_reward", avg.AvgReward).
		Float64("avg_percent", avg.AvgPercent).
		Bool("learned", learned).
		Msg("training round finished")
}

// StartTraining makes the next round run even when the batch is short.
func (s *Server) StartTraining() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.forceTrain = true

	s.log.Info().Msg("training requested")
}

func (s *Server) Stats() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Statistics{
		Agents:              len(s.agents),
		TotalCompletedGames: s.totalCompleted,
		BatchGames:          len(s.batchPercents),
		TrainFrequency:      s.trainFrequency,
		TrainingRounds:      s.rounds,
		Averages:            append([]BatchAverage(nil), s.averages...),
	}

	for _, agent := range s.agents {
		if agent.paused {
			stats.Paused++
		}
	}

	return stats
}
