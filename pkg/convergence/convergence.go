// Package convergence implements the per-round analysis of
// response-to-response similarity and status classification that lets a
// deliberation stop early.
package convergence

import (
	"context"

	"github.com/ai-counsel/counsel/pkg/similarity"
	"github.com/ai-counsel/counsel/pkg/types"
)

// Config tunes the detector's thresholds and stability requirements.
type Config struct {
	SimilarityThreshold   float64
	DivergenceThreshold   float64
	MinRoundsBeforeCheck  int
	ConsecutiveStableRounds int
}

// DefaultConfig matches the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold:     0.85,
		DivergenceThreshold:     0.40,
		MinRoundsBeforeCheck:    2,
		ConsecutiveStableRounds: 2,
	}
}

// Result is the outcome of a single round's convergence check.
type Result struct {
	Converged                bool
	Status                   types.ConvergenceStatus
	MinSimilarity            float64
	AvgSimilarity            float64
	PerParticipantSimilarity map[string]float64
	ConsecutiveStableRounds  int
}

// Detector tracks the running stable/unstable counters across a single
// deliberation's rounds. Not safe for concurrent use — one Detector per
// in-flight deliberation.
type Detector struct {
	cfg     Config
	backend similarity.Backend

	consecutiveStable      int
	consecutiveUnstable    int
}

// New constructs a Detector bound to backend. If backend is nil, the
// Jaccard fallback is used so the detector degrades gracefully rather
// than panicking.
func New(cfg Config, backend similarity.Backend) *Detector {
	if backend == nil {
		backend = similarity.Fallback()
	}
	return &Detector{cfg: cfg, backend: backend}
}

// Check implements the spec's per-round procedure. roundNum is the round
// number of current (the round just completed). It pairs participants
// across current and previous by identifier, drops participants absent in
// either round, and returns nil when there is nothing to compare or the
// round is below the minimum-rounds-before-check gate.
func (d *Detector) Check(ctx context.Context, previous, current []types.RoundResponse, roundNum int) (*Result, error) {
	if roundNum <= d.cfg.MinRoundsBeforeCheck {
		return nil, nil
	}

	prevByParticipant := indexByParticipant(previous)
	curByParticipant := indexByParticipant(current)

	var scores []float64
	perParticipant := make(map[string]float64)

	for participant, curResp := range curByParticipant {
		prevResp, ok := prevByParticipant[participant]
		if !ok {
			continue
		}
		score, err := d.backend.ComputeSimilarity(ctx, prevResp.Response, curResp.Response)
		if err != nil {
			return nil, err
		}
		score = types.Clamp01(score)
		scores = append(scores, score)
		perParticipant[participant] = score
	}

	if len(scores) == 0 {
		return nil, nil
	}

	minSim, avgSim := minAvg(scores)

	result := &Result{
		MinSimilarity:            minSim,
		AvgSimilarity:            avgSim,
		PerParticipantSimilarity: perParticipant,
	}

	switch {
	case minSim >= d.cfg.SimilarityThreshold:
		d.consecutiveUnstable = 0
		d.consecutiveStable++
		if d.consecutiveStable >= d.cfg.ConsecutiveStableRounds {
			result.Converged = true
			result.Status = types.ConvergenceConverged
		} else {
			result.Status = types.ConvergenceRefining
		}
	case minSim < d.cfg.DivergenceThreshold:
		d.consecutiveStable = 0
		d.consecutiveUnstable++
		if d.consecutiveUnstable >= d.cfg.ConsecutiveStableRounds {
			result.Status = types.ConvergenceImpasse
		} else {
			result.Status = types.ConvergenceDiverging
		}
	default:
		d.consecutiveStable = 0
		d.consecutiveUnstable = 0
		result.Status = types.ConvergenceRefining
	}

	result.ConsecutiveStableRounds = d.consecutiveStable
	return result, nil
}

func indexByParticipant(rs []types.RoundResponse) map[string]types.RoundResponse {
	m := make(map[string]types.RoundResponse, len(rs))
	for _, r := range rs {
		m[r.Participant] = r
	}
	return m
}

func minAvg(scores []float64) (min, avg float64) {
	min = scores[0]
	sum := 0.0
	for _, s := range scores {
		if s < min {
			min = s
		}
		sum += s
	}
	avg = sum / float64(len(scores))
	return min, avg
}
