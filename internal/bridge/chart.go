package bridge

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// BatchAverage summarises one training batch.
type BatchAverage struct {
	TotalGames int     `json:"total_games"`
	AvgReward  float64 `json:"avg_reward"`
	AvgPercent float64 `json:"avg_percent"`
}

var (
	rewardColor  = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	percentColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
)

// newChart plots average reward and average completion against the number of
// completed games.
func newChart(averages []BatchAverage) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Training progress"
	p.X.Label.Text = "Total Completed Games"
	p.Y.Label.Text = "Average"

	rewards := make(plotter.XYs, 0, len(averages))
	percents := make(plotter.XYs, 0, len(averages))

	for _, a := range averages {
		rewards = append(rewards, plotter.XY{X: float64(a.TotalGames), Y: a.AvgReward})
		percents = append(percents, plotter.XY{X: float64(a.TotalGames), Y: a.AvgPercent})
	}

	if len(averages) == 0 {
		return p, nil
	}

	rewardLine, err := plotter.NewLine(rewards)
	if err != nil {
		return nil, fmt.Errorf("failed to create reward line: %w", err)
	}

	rewardLine.Color = rewardColor
	rewardLine.Width = vg.Points(1.5)

	percentLine, err := plotter.NewLine(percents)
	if err != nil {
		return nil, fmt.Errorf("failed to create completion line: %w", err)
	}

	percentLine.Color = percentColor
	percentLine.Width = vg.Points(1.5)

	p.Add(rewardLine, percentLine, plotter.NewGrid())
	p.Legend.Add("Average Reward", rewardLine)
	p.Legend.Add("Average % Completed", percentLine)
	p.Legend.Top = true

	return p, nil
}

// SaveChart writes the chart as an image; the extension picks the format.
func SaveChart(path string, averages []BatchAverage) error {
	p, err := newChart(averages)
	if err != nil {
		return err
	}

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save chart %s: %w", path, err)
	}

	return nil
}

// WriteChartPNG renders the chart as PNG to w.
func WriteChartPNG(w io.Writer, averages []BatchAverage) error {
	p, err := newChart(averages)
	if err != nil {
		return err
	}

	wt, err := p.WriterTo(10*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}

	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write chart: %w", err)
	}

	return nil
}
