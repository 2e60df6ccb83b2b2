package backtest

import (
	"context"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/deltamaker/internal/domain"
)

// MonteCarloSummary resume N corridas probabilísticas con semillas
// derivadas de una semilla base.
type MonteCarloSummary struct {
	Runs         int
	Seed         uint64
	MeanPnL      float64
	StdDevPnL    float64
	P5PnL        float64
	P50PnL       float64
	P95PnL       float64
	ProbLoss     float64 // fracción de corridas con P&L total < 0
	Profitable   float64 // fracción de corridas con P&L total > 0
	MeanFillRate float64
	RunPnL       []float64
}

// runSeed deriva la semilla de la corrida run. Golden-ratio increment
// (splitmix64) para que semillas consecutivas no se solapen.
func runSeed(seed uint64, run int) uint64 {
	z := seed + uint64(run+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// MonteCarlo repite RunProbabilistic runs veces. Las corridas se reparten
// entre los workers; cada corrida es secuencial sobre sus ventanas, así que
// el resultado es idéntico para la misma semilla.
func (e *Engine) MonteCarlo(ctx context.Context, windows []domain.MarketWindow, runs int, seed uint64) (MonteCarloSummary, error) {
	if runs <= 0 {
		return MonteCarloSummary{}, fmt.Errorf("backtest.MonteCarlo: runs must be positive, got %d", runs)
	}

	totals := make([]float64, runs)
	fillRates := make([]float64, runs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for run := range runs {
		g.Go(func() error {
			res, err := e.runSequential(gctx, windows, e.probabilisticFiller(runSeed(seed, run)))
			if err != nil {
				return err
			}
			m := ComputeMetrics(res)
			totals[run] = m.TotalPnL
			fillRates[run] = m.FillRate
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return MonteCarloSummary{}, fmt.Errorf("backtest.MonteCarlo: %w", err)
	}

	s := MonteCarloSummary{Runs: runs, Seed: seed, RunPnL: totals}
	s.MeanPnL, _ = stats.Mean(totals)
	s.MeanFillRate, _ = stats.Mean(fillRates)
	if runs >= 2 {
		s.StdDevPnL, _ = stats.StandardDeviationSample(totals)
	}
	s.P5PnL = percentile(totals, 5)
	s.P50PnL = percentile(totals, 50)
	s.P95PnL = percentile(totals, 95)

	losses, wins := 0, 0
	for _, t := range totals {
		switch {
		case t < 0:
			losses++
		case t > 0:
			wins++
		}
	}
	s.ProbLoss = float64(losses) / float64(runs)
	s.Profitable = float64(wins) / float64(runs)
	return s, nil
}

// percentile usa stats.Percentile. Con pocas corridas el índice de los
// percentiles bajos cae por debajo de 1 y la librería devuelve error; en ese
// caso el percentil es el mínimo.
func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	v, err := stats.Percentile(xs, p)
	if err != nil || math.IsNaN(v) {
		v, _ = stats.Min(xs)
	}
	return v
}
