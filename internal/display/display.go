// Package display carries the per-tick progress readout to human facing
// sinks. Sinks are best effort: a failing sink never stops the loop.
package display

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/zetetos/racetrack-env/pkg/models"
)

// Update is the readout produced by one environment step.
type Update struct {
	PercentCompleted float64         `json:"percent_completed"`
	Elapsed          time.Duration   `json:"-"`
	ElapsedMs        int64           `json:"elapsed_ms"`
	Phase            string          `json:"phase"`
	SpeedKPH         float64         `json:"speed_kph"`
	HeadingDegrees   float64         `json:"heading_deg"`
	Outcome          string          `json:"outcome,omitempty"`
	Controls         models.Controls `json:"controls"`
}

// Timer formats elapsed time as seconds with two decimals.
func (u Update) Timer() string {
	return fmt.Sprintf("%.2f", u.Elapsed.Seconds())
}

// Sink receives display updates.
type Sink interface {
	Push(u Update) error
}

// SafePush delivers u to sink, converting panics into errors.
func SafePush(sink Sink, u Update) (err error) {
	if sink == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("display sink panic: %v", r)
		}
	}()

	return sink.Push(u)
}

// LogSink writes updates to a logger at most once per Interval, and always on
// episode outcomes.
type LogSink struct {
	Interval time.Duration

	log  zerolog.Logger
	last time.Time
}

// NewLogSink creates a LogSink.
func NewLogSink(log zerolog.Logger, interval time.Duration) *LogSink {
	return &LogSink{Interval: interval, log: log}
}

func (s *LogSink) Push(u Update) error {
	now := time.Now()
	if u.Outcome == "" && now.Sub(s.last) < s.Interval {
		return nil
	}

	s.last = now

	s.log.Info().
		Str("phase", u.Phase).
		Str("timer", u.Timer()).
		Float64("percent", u.PercentCompleted).
		Float64("speed_kph", u.SpeedKPH).
		Str("outcome", u.Outcome).
		Msg("progress")

	return nil
}

// Multi fans an update out to several sinks, returning the first error after
// trying them all.
type Multi []Sink

func (m Multi) Push(u Update) error {
	var first error

	for _, s := range m {
		if err := SafePush(s, u); err != nil && first == nil {
			first = err
		}
	}

	return first
}
