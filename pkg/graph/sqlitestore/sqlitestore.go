// Package sqlitestore backs the decision graph with a single-file SQLite
// database (modernc.org/sqlite, pure Go, no cgo) opened in WAL mode.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ai-counsel/counsel/pkg/graph"
	"github.com/ai-counsel/counsel/pkg/observability"
	"github.com/ai-counsel/counsel/pkg/types"
)

// Store implements graph.Store over a SQLite database file.
type Store struct {
	db     *sql.DB
	tracer observability.Tracer
}

var _ graph.Store = (*Store)(nil)

// Open opens (creating if absent) the SQLite database at path in WAL
// mode and runs pending migrations.
func Open(ctx context.Context, path string, tracer observability.Tracer) (*Store, error) {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("graph: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers through the same handle

	mig, err := newMigrator(db, tracer)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := mig.migrateUp(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("graph: migrate: %w", err)
	}

	return &Store{db: db, tracer: tracer}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveDecision persists node and stances atomically: all-or-nothing.
func (s *Store) SaveDecision(ctx context.Context, node types.DecisionNode, stances []types.ParticipantStance) error {
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanGraphSaveDecision)
	defer s.tracer.EndSpan(span)

	if node.ID == "" {
		node.ID = uuid.NewString()
	}

	participantsJSON, err := json.Marshal(node.Participants)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("graph: marshal participants: %w", err)
	}
	metadataJSON, err := json.Marshal(node.Metadata)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("graph: marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("graph: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO decision_nodes
			(id, question, timestamp, consensus, winning_option, convergence_status,
			 participants_json, transcript_path, metadata_json, question_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		node.ID, node.Question, node.Timestamp.Unix(), node.Consensus, node.WinningOption,
		string(node.ConvergenceStatus), string(participantsJSON), node.TranscriptPath,
		string(metadataJSON), types.QuestionHash(node.Question),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("graph: insert decision_node: %w", err)
	}

	for _, stance := range stances {
		stance.DecisionID = node.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO participant_stances
				(decision_id, participant, vote_option, confidence, rationale, final_position)
			VALUES (?, ?, ?, ?, ?, ?)`,
			stance.DecisionID, stance.Participant, stance.VoteOption,
			nullableFloat(stance.Confidence), stance.Rationale, stance.FinalPosition,
		)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("graph: insert participant_stance: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("graph: commit: %w", err)
	}
	return nil
}

// GetDecisionNode returns the node with the given id.
func (s *Store) GetDecisionNode(ctx context.Context, id string) (*types.DecisionNode, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, question, timestamp, consensus, winning_option, convergence_status,
		       participants_json, transcript_path, metadata_json
		FROM decision_nodes WHERE id = ?`, id)
	node, err := scanDecisionNode(row)
	if err == sql.ErrNoRows {
		return nil, graph.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("graph: get_decision_node: %w", err)
	}
	return node, nil
}

// GetAllDecisions returns decisions ordered by timestamp descending,
// optionally filtered to those after since, capped at limit (0 = no cap).
func (s *Store) GetAllDecisions(ctx context.Context, limit int, since *time.Time) ([]types.DecisionNode, error) {
	query := `
		SELECT id, question, timestamp, consensus, winning_option, convergence_status,
		       participants_json, transcript_path, metadata_json
		FROM decision_nodes`
	var args []interface{}
	if since != nil {
		query += " WHERE timestamp > ?"
		args = append(args, since.Unix())
	}
	query += " ORDER BY timestamp DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("graph: get_all_decisions: %w", err)
	}
	defer rows.Close()

	var out []types.DecisionNode
	for rows.Next() {
		node, err := scanDecisionNode(rows)
		if err != nil {
			return nil, fmt.Errorf("graph: scan decision_node: %w", err)
		}
		out = append(out, *node)
	}
	return out, rows.Err()
}

// SaveSimilarity upserts an edge keyed by (source_id, target_id).
func (s *Store) SaveSimilarity(ctx context.Context, edge types.DecisionSimilarity) error {
	if edge.SourceID == edge.TargetID {
		return fmt.Errorf("graph: save_similarity: source_id == target_id (%s)", edge.SourceID)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decision_similarities (source_id, target_id, similarity_score, computed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (source_id, target_id) DO UPDATE SET
			similarity_score = excluded.similarity_score,
			computed_at = excluded.computed_at`,
		edge.SourceID, edge.TargetID, edge.SimilarityScore, edge.ComputedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("graph: save_similarity: %w", err)
	}
	return nil
}

// GetSimilarDecisions returns edges from sourceID with score >= minScore,
// ordered by score descending, capped at limit.
func (s *Store) GetSimilarDecisions(ctx context.Context, sourceID string, minScore float64, limit int) ([]types.ScoredDecision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT target_id, similarity_score FROM decision_similarities
		WHERE source_id = ? AND similarity_score >= ?
		ORDER BY similarity_score DESC
		LIMIT ?`, sourceID, minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("graph: get_similar_decisions: %w", err)
	}
	defer rows.Close()

	var out []types.ScoredDecision
	for rows.Next() {
		var sd types.ScoredDecision
		if err := rows.Scan(&sd.ID, &sd.Score); err != nil {
			return nil, fmt.Errorf("graph: scan scored_decision: %w", err)
		}
		out = append(out, sd)
	}
	return out, rows.Err()
}

// PruneSimilarities keeps only the top keepPerSource edges per source_id.
func (s *Store) PruneSimilarities(ctx context.Context, keepPerSource int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM decision_similarities
		WHERE rowid NOT IN (
			SELECT rowid FROM (
				SELECT rowid, ROW_NUMBER() OVER (
					PARTITION BY source_id ORDER BY similarity_score DESC
				) AS rn
				FROM decision_similarities
			) ranked WHERE ranked.rn <= ?
		)`, keepPerSource)
	if err != nil {
		return fmt.Errorf("graph: prune_similarities: %w", err)
	}
	return nil
}

// IncrementSolutionTotals atomically upserts totals for solution using
// database-native INSERT-ON-CONFLICT, incrementing DeliberationCount by
// 1 per call.
func (s *Store) IncrementSolutionTotals(ctx context.Context, solution string, split types.TokenSplit) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO solution_token_totals
			(solution, total_tokens, exact_tokens, estimated_tokens, total_cost_usd,
			 cost_lower_bound, cost_upper_bound, deliberation_count, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT (solution) DO UPDATE SET
			total_tokens = total_tokens + excluded.total_tokens,
			exact_tokens = exact_tokens + excluded.exact_tokens,
			estimated_tokens = estimated_tokens + excluded.estimated_tokens,
			total_cost_usd = total_cost_usd + excluded.total_cost_usd,
			deliberation_count = deliberation_count + 1,
			last_updated = excluded.last_updated`,
		solution, split.Total(), split.ExactTokens, split.EstimatedTokens,
		split.CostUSD, split.CostUSD, split.CostUSD, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("graph: increment_solution_totals: %w", err)
	}
	return nil
}

// GetSolutionTotals returns the current totals for solution.
func (s *Store) GetSolutionTotals(ctx context.Context, solution string) (*types.SolutionTokenTotals, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT solution, total_tokens, exact_tokens, estimated_tokens, total_cost_usd,
		       cost_lower_bound, cost_upper_bound, deliberation_count, last_updated
		FROM solution_token_totals WHERE solution = ?`, solution)

	var totals types.SolutionTokenTotals
	var lastUpdated int64
	err := row.Scan(&totals.Solution, &totals.TotalTokens, &totals.ExactTokens, &totals.EstimatedTokens,
		&totals.TotalCostUSD, &totals.CostLowerBound, &totals.CostUpperBound, &totals.DeliberationCount, &lastUpdated)
	if err == sql.ErrNoRows {
		return nil, graph.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("graph: get_solution_totals: %w", err)
	}
	totals.LastUpdated = time.Unix(lastUpdated, 0)
	return &totals, nil
}

// Count returns the total number of decision nodes stored.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM decision_nodes").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("graph: count: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDecisionNode(row scanner) (*types.DecisionNode, error) {
	var node types.DecisionNode
	var ts int64
	var participantsJSON, metadataJSON string
	var winningOption, transcriptPath sql.NullString

	if err := row.Scan(&node.ID, &node.Question, &ts, &node.Consensus, &winningOption,
		&node.ConvergenceStatus, &participantsJSON, &transcriptPath, &metadataJSON); err != nil {
		return nil, err
	}

	node.Timestamp = time.Unix(ts, 0)
	node.WinningOption = winningOption.String
	node.TranscriptPath = transcriptPath.String

	if err := json.Unmarshal([]byte(participantsJSON), &node.Participants); err != nil {
		return nil, fmt.Errorf("unmarshal participants: %w", err)
	}
	if metadataJSON != "" && metadataJSON != "null" {
		if err := json.Unmarshal([]byte(metadataJSON), &node.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &node, nil
}

func nullableFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
