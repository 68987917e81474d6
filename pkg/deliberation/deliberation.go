// Package deliberation implements the round-scheduling engine (C9):
// fans out prompts to participants each round, threads their
// responses into subsequent rounds, checks convergence, parses votes,
// and assembles the final DeliberationResult.
package deliberation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ai-counsel/counsel/internal/log"
	"github.com/ai-counsel/counsel/pkg/adapter"
	"github.com/ai-counsel/counsel/pkg/convergence"
	"github.com/ai-counsel/counsel/pkg/errs"
	"github.com/ai-counsel/counsel/pkg/types"
	"github.com/ai-counsel/counsel/pkg/vote"
)

// maxConsecutiveFailures is how many rounds a participant may fail
// entirely before the engine drops it from later rounds.
const maxConsecutiveFailures = 3

// minParticipants is the floor below which the engine aborts rather
// than continuing with a crippled panel.
const minParticipants = 2

const defaultConferenceRounds = 3

// GraphMemory is the subset of the C8 facade the engine depends on:
// best-effort context retrieval for round 1 and best-effort
// persistence of the finished result. Both must already swallow their
// own internal errors per spec — the engine only needs to know
// whether a decision id was produced, for logging.
type GraphMemory interface {
	GetContextForDeliberation(ctx context.Context, question string) string
	StoreDeliberation(ctx context.Context, question string, result *types.DeliberationResult) (string, error)
}

// Request is the caller-supplied input to a single deliberation.
type Request struct {
	Question     string
	Participants []types.Participant
	Mode         types.Mode
	Rounds       int // requested round budget; conference mode only
}

// Engine orchestrates deliberations. One Engine serves many
// concurrent Run calls; all per-deliberation state lives in a run.
type Engine struct {
	registry *adapter.Registry
	memory   GraphMemory
	detector func() *convergence.Detector
}

// New constructs an Engine. detectorFactory builds a fresh
// convergence.Detector for each deliberation (Detector is stateful and
// not safe to share across concurrent runs).
func New(registry *adapter.Registry, memory GraphMemory, detectorFactory func() *convergence.Detector) *Engine {
	return &Engine{registry: registry, memory: memory, detector: detectorFactory}
}

// Run executes one deliberation end to end.
func (e *Engine) Run(ctx context.Context, req Request) (*types.DeliberationResult, error) {
	if len(req.Participants) < minParticipants {
		return nil, fmt.Errorf("deliberation: need at least %d participants, got %d: %w", minParticipants, len(req.Participants), errs.ErrConfigError)
	}

	participants, adapters := e.buildAdapters(req.Participants)
	if len(participants) < minParticipants {
		return nil, fmt.Errorf("deliberation: fewer than %d participants survived adapter construction: %w", minParticipants, errs.ErrConfigError)
	}

	maxRounds := effectiveRounds(req.Mode, req.Rounds)
	contextText := e.memory.GetContextForDeliberation(ctx, req.Question)

	detector := e.detector()
	failures := make(map[string]int, len(participants))

	var transcript []types.RoundResponse
	var previousRound []types.RoundResponse
	roundsCompleted := 0
	convergenceInfo := &types.ConvergenceInfo{Status: types.ConvergenceMaxRounds}
	cancelled := false

	for round := 1; round <= maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			cancelled = true
			break
		}

		participants, adapters = dropFailedParticipants(participants, adapters, failures)
		if len(participants) < minParticipants {
			break
		}

		current := e.runRound(ctx, round, req.Question, participants, adapters, previousRound, contextText)
		roundsCompleted = round
		transcript = append(transcript, current...)

		for _, r := range current {
			if strings.HasPrefix(r.Response, "[ERROR:") {
				failures[r.Participant]++
			} else {
				failures[r.Participant] = 0
			}
		}

		if round >= 2 {
			result, cErr := detector.Check(ctx, previousRound, current, round)
			if cErr != nil {
				log.Warn("deliberation.convergence_check_failed", zap.Error(cErr))
			} else if result != nil {
				convergenceInfo = toConvergenceInfo(result, round, convergenceInfo)
				if result.Status == types.ConvergenceConverged || result.Status == types.ConvergenceImpasse {
					previousRound = current
					break
				}
			}
		}

		previousRound = current
	}

	status := types.DeliberationComplete
	if cancelled || len(participants) < minParticipants {
		status = types.DeliberationPartial
	}

	votingResult := vote.Aggregate(previousRound)
	summary := vote.Summarize(transcript, votingResult)
	tokenStats := computeTokenStats(transcript)

	result := &types.DeliberationResult{
		Status:              status,
		Mode:                req.Mode,
		RoundsCompleted:     roundsCompleted,
		Participants:        req.Participants,
		Summary:             summary,
		FullDebate:          transcript,
		VotingResult:        votingResult,
		ConvergenceInfo:      convergenceInfo,
		GraphContextSummary: contextText,
		TokenStats:          tokenStats,
	}

	if _, err := e.memory.StoreDeliberation(ctx, req.Question, result); err != nil {
		log.Warn("deliberation.store_failed", zap.Error(err))
	}

	return result, nil
}

func (e *Engine) buildAdapters(participants []types.Participant) ([]types.Participant, []adapter.Adapter) {
	alive := make([]types.Participant, 0, len(participants))
	adapters := make([]adapter.Adapter, 0, len(participants))
	for _, p := range participants {
		a, err := e.registry.Build(p.CLI)
		if err != nil {
			log.Warn("deliberation.adapter_construction_failed", zap.String("cli", p.CLI), zap.Error(err))
			continue
		}
		alive = append(alive, p)
		adapters = append(adapters, a)
	}
	return alive, adapters
}

// runRound dispatches every participant concurrently and reassembles
// responses in the original, input-order slice position — never
// completion order.
func (e *Engine) runRound(ctx context.Context, round int, question string, participants []types.Participant, adapters []adapter.Adapter, previous []types.RoundResponse, contextText string) []types.RoundResponse {
	out := make([]types.RoundResponse, len(participants))
	done := make(chan int, len(participants))

	for i := range participants {
		go func(i int) {
			defer func() { done <- i }()
			out[i] = e.invokeOne(ctx, round, question, participants[i], adapters[i], previous, contextText)
		}(i)
	}
	for range participants {
		<-done
	}

	return out
}

func (e *Engine) invokeOne(ctx context.Context, round int, question string, p types.Participant, a adapter.Adapter, previous []types.RoundResponse, contextText string) types.RoundResponse {
	prompt := buildPrompt(round, question, p, previous)
	ctxArg := ""
	if round == 1 {
		ctxArg = contextText
	}

	text, usage, err := a.InvokeWithMetadata(ctx, prompt, p.Model, ctxArg, true)
	resp := types.RoundResponse{
		Round:       round,
		Participant: p.Key(),
		Stance:      p.Stance,
		Timestamp:   time.Now(),
	}
	if err != nil {
		resp.Response = fmt.Sprintf("[ERROR: %v]", err)
		return resp
	}

	resp.Response = text
	resp.TokenUsage = &usage
	if v, ok := vote.Parse(text); ok {
		resp.Vote = v
	}
	return resp
}

func buildPrompt(round int, question string, p types.Participant, previous []types.RoundResponse) string {
	var sb strings.Builder
	sb.WriteString(question)

	if round == 1 {
		if p.Stance != "" && p.Stance != types.StanceNeutral {
			fmt.Fprintf(&sb, "\n\nYour assigned stance for this deliberation is: %s.", p.Stance)
		}
		return sb.String()
	}

	sb.WriteString("\n\n## Previous round responses\n")
	for _, r := range previous {
		fmt.Fprintf(&sb, "\n### %s (%s)\n%s\n", r.Participant, r.Stance, truncateResponse(r.Response))
	}
	return sb.String()
}

// truncateResponse preserves author attribution and the last vote
// block (by truncating from the front, not the end) when a prior
// response is very long.
const maxCarriedResponseLen = 2000

func truncateResponse(s string) string {
	if len(s) <= maxCarriedResponseLen {
		return s
	}
	return "...(truncated)...\n" + s[len(s)-maxCarriedResponseLen:]
}

func dropFailedParticipants(participants []types.Participant, adapters []adapter.Adapter, failures map[string]int) ([]types.Participant, []adapter.Adapter) {
	keptP := make([]types.Participant, 0, len(participants))
	keptA := make([]adapter.Adapter, 0, len(adapters))
	for i, p := range participants {
		if failures[p.Key()] >= maxConsecutiveFailures {
			continue
		}
		keptP = append(keptP, p)
		keptA = append(keptA, adapters[i])
	}
	return keptP, keptA
}

func effectiveRounds(mode types.Mode, requested int) int {
	if mode == types.ModeQuick {
		return 1
	}
	if requested <= 0 {
		return defaultConferenceRounds
	}
	return requested
}

func toConvergenceInfo(r *convergence.Result, round int, prev *types.ConvergenceInfo) *types.ConvergenceInfo {
	info := &types.ConvergenceInfo{
		Detected:                 r.Status == types.ConvergenceConverged,
		FinalSimilarity:          r.AvgSimilarity,
		Status:                   r.Status,
		PerParticipantSimilarity: r.PerParticipantSimilarity,
		ScoresByRound:            append(append([]types.RoundScore{}, prev.ScoresByRound...), types.RoundScore{Round: round, MinSimilarity: r.MinSimilarity, AvgSimilarity: r.AvgSimilarity}),
	}
	if info.Detected {
		rnd := round
		info.DetectionRound = &rnd
	}
	return info
}

func computeTokenStats(transcript []types.RoundResponse) *types.TokenStats {
	stats := &types.TokenStats{ByParticipant: map[string]int{}}
	for _, r := range transcript {
		if r.TokenUsage == nil {
			continue
		}
		total := r.TokenUsage.Total()
		stats.TotalTokens += total
		stats.ByParticipant[r.Participant] += total
		switch r.TokenUsage.Accuracy {
		case types.TokenAccuracyExact:
			stats.ExactTokens += total
		case types.TokenAccuracyEstimated:
			stats.EstimatedTokens += total
		}
		if r.TokenUsage.CostUSD != nil {
			stats.TotalCostUSD += *r.TokenUsage.CostUSD
		}
	}
	return stats
}
