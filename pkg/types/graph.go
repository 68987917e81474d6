package types

import "time"

// DecisionNode is one persisted, completed deliberation. Immutable once
// written; identity is ID.
type DecisionNode struct {
	ID                string            `json:"id"`
	Question          string            `json:"question"`
	Timestamp         time.Time         `json:"timestamp"`
	Consensus         string            `json:"consensus"`
	WinningOption     string            `json:"winning_option,omitempty"`
	ConvergenceStatus ConvergenceStatus `json:"convergence_status"`
	Participants      []string          `json:"participants"`
	TranscriptPath    string            `json:"transcript_path,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// ParticipantStance is one participant's final recorded position within a
// DecisionNode. Its lifetime is owned entirely by the DecisionNode.
type ParticipantStance struct {
	DecisionID    string   `json:"decision_id"`
	Participant   string   `json:"participant"`
	VoteOption    string   `json:"vote_option,omitempty"`
	Confidence    *float64 `json:"confidence,omitempty"`
	Rationale     string   `json:"rationale,omitempty"`
	FinalPosition string   `json:"final_position"`
}

// DecisionSimilarity is a weighted edge between two decisions in the
// similarity graph. SourceID must never equal TargetID; the score is
// symmetric by construction.
type DecisionSimilarity struct {
	SourceID        string    `json:"source_id"`
	TargetID        string    `json:"target_id"`
	SimilarityScore float64   `json:"similarity_score"`
	ComputedAt      time.Time `json:"computed_at"`
}

// TokenSplit is the exact/estimated token breakdown IncrementSolutionTotals
// adds to a solution's running totals for one deliberation. Exact and
// Estimated may both be non-zero in the same deliberation when its
// participants mix HTTP adapters (exact usage) and CLI adapters
// (estimated usage).
type TokenSplit struct {
	ExactTokens     int
	EstimatedTokens int
	CostUSD         float64
}

// Total returns ExactTokens+EstimatedTokens.
func (s TokenSplit) Total() int {
	return s.ExactTokens + s.EstimatedTokens
}

// SolutionTokenTotals aggregates token usage and cost across every
// deliberation recorded under a given solution key. Monotonically
// non-decreasing except for administrative pruning.
type SolutionTokenTotals struct {
	Solution          string    `json:"solution"`
	TotalTokens       int       `json:"total_tokens"`
	ExactTokens       int       `json:"exact_tokens"`
	EstimatedTokens   int       `json:"estimated_tokens"`
	TotalCostUSD      float64   `json:"total_cost_usd"`
	CostLowerBound    float64   `json:"cost_lower_bound"`
	CostUpperBound    float64   `json:"cost_upper_bound"`
	DeliberationCount int       `json:"deliberation_count"`
	LastUpdated       time.Time `json:"last_updated"`
}

// ScoredDecision pairs a DecisionNode's id with a similarity score, the
// shape returned by query_decisions and cached by the L1 tier.
type ScoredDecision struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}
