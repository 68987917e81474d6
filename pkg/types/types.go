// Package types holds the data model shared by every counsel package:
// participants, round responses, votes, token accounting, convergence
// results, deliberation results and the decision-graph entities.
package types

import (
	"fmt"
	"math"
	"time"
)

// Participant is one instantiated model reachable through a named adapter.
type Participant struct {
	CLI    string `json:"cli"`
	Model  string `json:"model"`
	Stance Stance `json:"stance,omitempty"`
}

// Key returns the cross-round identity for a participant: model@cli.
func (p Participant) Key() string {
	return ParticipantKey(p.Model, p.CLI)
}

// ParticipantKey builds the model@cli identity string used to match a
// participant's responses across rounds.
func ParticipantKey(model, cli string) string {
	return model + "@" + cli
}

// Vote is the structured outcome a participant may emit at the end of a
// response. Present only when the response contained a well-formed vote
// block.
type Vote struct {
	Option     string  `json:"option"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// TokenUsage records token accounting for a single adapter invocation.
type TokenUsage struct {
	Input     int           `json:"input"`
	Output    int           `json:"output"`
	Reasoning int           `json:"reasoning"`
	Accuracy  TokenAccuracy `json:"accuracy"`
	Adapter   AdapterType   `json:"adapter_type"`
	Model     string        `json:"model"`
	Timestamp time.Time     `json:"timestamp"`
	CostUSD   *float64      `json:"cost_usd,omitempty"`
}

// Total recomputes input+output+reasoning so callers cannot construct an
// inconsistent value by setting a stale Total field directly.
func (t TokenUsage) Total() int {
	return t.Input + t.Output + t.Reasoning
}

// RoundResponse is one participant's contribution to one round. Immutable
// once appended to a deliberation's transcript.
type RoundResponse struct {
	Round       int         `json:"round"`
	Participant string      `json:"participant"`
	Stance      Stance      `json:"stance"`
	Response    string      `json:"response"`
	Timestamp   time.Time   `json:"timestamp"`
	Vote        *Vote       `json:"vote,omitempty"`
	TokenUsage  *TokenUsage `json:"token_usage,omitempty"`
}

// ConvergenceInfo summarises the convergence detector's state at the point
// a deliberation stopped (or exhausted its round budget).
type ConvergenceInfo struct {
	Detected                bool                  `json:"detected"`
	DetectionRound          *int                  `json:"detection_round,omitempty"`
	FinalSimilarity         float64               `json:"final_similarity"`
	Status                  ConvergenceStatus     `json:"status"`
	PerParticipantSimilarity map[string]float64   `json:"per_participant_similarity"`
	ScoresByRound           []RoundScore          `json:"scores_by_round"`
}

// RoundScore records the min/avg pairwise similarity computed for a single
// round during convergence checking.
type RoundScore struct {
	Round         int     `json:"round"`
	MinSimilarity float64 `json:"min_similarity"`
	AvgSimilarity float64 `json:"avg_similarity"`
}

// VotingResult is the aggregated outcome of the final round's votes.
type VotingResult struct {
	Winner      string             `json:"winner"`
	Tally       map[string]float64 `json:"tally"`
	RawCounts   map[string]int     `json:"raw_counts"`
	Unanimous   bool               `json:"unanimous"`
}

// Summary is the deterministic textual synthesis of a deliberation.
type Summary struct {
	Consensus           string   `json:"consensus"`
	KeyAgreements       []string `json:"key_agreements"`
	KeyDisagreements    []string `json:"key_disagreements"`
	FinalRecommendation string   `json:"final_recommendation"`
}

// TokenStats aggregates token usage for an entire deliberation.
type TokenStats struct {
	TotalTokens    int     `json:"total_tokens"`
	ExactTokens    int     `json:"exact_tokens"`
	EstimatedTokens int    `json:"estimated_tokens"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
	ByParticipant  map[string]int `json:"by_participant"`
}

// DeliberationResult is the complete, serialisable outcome of a
// deliberation, returned to the control plane caller.
type DeliberationResult struct {
	Status             DeliberationStatus `json:"status"`
	Mode                Mode               `json:"mode"`
	RoundsCompleted     int                `json:"rounds_completed"`
	Participants        []Participant      `json:"participants"`
	Summary             *Summary           `json:"summary,omitempty"`
	TranscriptPath      string             `json:"transcript_path,omitempty"`
	FullDebate          []RoundResponse    `json:"full_debate"`
	VotingResult        *VotingResult      `json:"voting_result,omitempty"`
	ConvergenceInfo     *ConvergenceInfo   `json:"convergence_info,omitempty"`
	GraphContextSummary string             `json:"graph_context_summary,omitempty"`
	TokenStats          *TokenStats        `json:"token_stats,omitempty"`
}

// QuestionHash derives the stable de-duplication/cache key for a
// question string, used both by the graph store's question_hash
// column and the retriever's L1 cache key.
func QuestionHash(question string) string {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(question); i++ {
		h ^= uint64(question[i])
		h *= prime64
	}
	return fmt.Sprintf("%016x", h)
}

// Clamp01 clamps v into the inclusive [0,1] range, snapping NaN/Inf to 0.
func Clamp01(v float64) float64 {
	if v != v || math.IsInf(v, 0) { // NaN or ±Inf
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
