package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zetetos/racetrack-env/internal/httputil"
)

const (
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultRequestTimeout = 10 * time.Second
	responseBuffer        = 32
)

var errNotReady = errors.New("decision service not ready to unpause")

// Options configures a Client.
type Options struct {
	BaseURL      string
	AgentID      string
	PollInterval time.Duration
	HTTPClient   httputil.HTTPClient
	Logger       zerolog.Logger
}

type actionRequest struct {
	AgentID            string      `json:"agent_id"`
	Observation        Observation `json:"observation"`
	Done               bool        `json:"done"`
	Win                bool        `json:"win"`
	TimeSinceGameStart int64       `json:"time_since_game_start"`
	Generation         uint64      `json:"generation"`
	Seq                uint64      `json:"seq"`
}

type actionResponse struct {
	Action map[string]bool `json:"action"`
	Pause  bool            `json:"pause"`
}

type unpauseResponse struct {
	Unpause bool `json:"unpause"`
}

// Client talks to the decision service over HTTP. At most one get_action call
// is in flight at any time.
type Client struct {
	baseURL      string
	agentID      string
	pollInterval time.Duration
	http         httputil.HTTPClient
	log          zerolog.Logger

	responses chan Response
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.Mutex
	busy    bool
	held    []Request
	polling bool
	closed  bool
}

// NewClient creates a Client. An empty AgentID is replaced by a random UUID.
func NewClient(opts Options) *Client {
	if opts.AgentID == "" {
		opts.AgentID = uuid.NewString()
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = httputil.NewStandardClient(DefaultRequestTimeout)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		agentID:      opts.AgentID,
		pollInterval: opts.PollInterval,
		http:         opts.HTTPClient,
		log:          opts.Logger.With().Str("agent_id", opts.AgentID).Logger(),
		responses:    make(chan Response, responseBuffer),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// AgentID returns the identifier sent with every request.
func (c *Client) AgentID() string {
	return c.agentID
}

// Responses implements Decider.
func (c *Client) Responses() <-chan Response {
	return c.responses
}

// Submit implements Decider.
func (c *Client) Submit(req Request) (bool, error) {
	if req.AgentID == "" {
		req.AgentID = c.agentID
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, ErrClosed
	}

	if c.busy {
		if !req.Done {
			c.log.Trace().Uint64("seq", req.Seq).Msg("request in flight, dropping cadence request")

			return false, nil
		}

		c.log.Debug().Uint64("seq", req.Seq).Int("held", len(c.held)+1).Msg("request in flight, holding terminal request")
		c.held = append(c.held, req)

		return true, nil
	}

	c.busy = true
	c.wg.Add(1)

	go c.exchange(req)

	return true, nil
}

// exchange sends req and then every terminal request held meanwhile, oldest
// first.
func (c *Client) exchange(req Request) {
	defer c.wg.Done()

	for {
		resp := c.getAction(req)
		c.emit(resp)

		// polling starts after the pause is delivered so a resume never
		// overtakes it
		if resp.Kind == KindPause {
			c.startPolling()
		}

		c.mu.Lock()
		if len(c.held) == 0 || c.closed {
			c.busy = false
			c.held = nil
			c.mu.Unlock()

			return
		}

		req = c.held[0]
		c.held = c.held[1:]
		c.mu.Unlock()
	}
}

func (c *Client) getAction(req Request) Response {
	resp := Response{AgentID: req.AgentID, Generation: req.Generation, Seq: req.Seq}

	body, err := json.Marshal(actionRequest{
		AgentID:            req.AgentID,
		Observation:        req.Observation,
		Done:               req.Done,
		Win:                req.Win,
		TimeSinceGameStart: req.Elapsed.Milliseconds(),
		Generation:         req.Generation,
		Seq:                req.Seq,
	})
	if err != nil {
		resp.Kind = KindError
		resp.Err = fmt.Errorf("encode get_action: %w", err)

		return resp
	}

	var out actionResponse
	if err := c.do(http.MethodPost, "/get_action", bytes.NewReader(body), &out); err != nil {
		c.log.Warn().Err(err).Uint64("seq", req.Seq).Msg("get_action failed")

		resp.Kind = KindError
		resp.Err = err

		return resp
	}

	if out.Pause {
		resp.Kind = KindPause

		return resp
	}

	resp.Kind = KindAction
	resp.Action = out.Action

	return resp
}

// startPolling begins the unpause poll unless one is already running.
func (c *Client) startPolling() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.polling || c.closed {
		return
	}

	c.polling = true
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		err := c.PollUnpause(c.ctx)

		c.mu.Lock()
		c.polling = false
		c.mu.Unlock()

		if err != nil {
			c.log.Debug().Err(err).Msg("unpause poll stopped")

			return
		}

		c.emit(Response{Kind: KindResume, AgentID: c.agentID})
	}()
}

// PollUnpause asks the service at a fixed interval whether training has
// finished, until it reports ready or ctx ends. Failed polls are logged and
// retried.
func (c *Client) PollUnpause(ctx context.Context) error {
	query := "/check_unpause?agent_id=" + url.QueryEscape(c.agentID)

	operation := func() error {
		var out unpauseResponse
		if err := c.do(http.MethodGet, query, nil, &out); err != nil {
			c.log.Warn().Err(err).Msg("check_unpause failed")

			return err
		}

		if !out.Unpause {
			return errNotReady
		}

		return nil
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(c.pollInterval), ctx)

	if err := backoff.Retry(operation, b); err != nil {
		return fmt.Errorf("poll unpause: %w", err)
	}

	return nil
}

// StartTraining asks the service to begin a training round.
func (c *Client) StartTraining() error {
	if err := c.do(http.MethodPost, "/start_training", nil, nil); err != nil {
		c.log.Error().Err(err).Msg("start_training failed")

		return err
	}

	c.log.Info().Msg("training requested")

	return nil
}

func (c *Client) do(method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(c.ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("%s %s: %w: %d", method, path, ErrUnexpectedStatus, res.StatusCode)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	return nil
}

func (c *Client) emit(resp Response) {
	select {
	case c.responses <- resp:
	case <-c.ctx.Done():
	}
}

// Close stops polling, waits for outstanding calls and closes Responses.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	close(c.responses)

	return nil
}
