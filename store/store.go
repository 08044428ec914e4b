package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/convai-tools/latency-pipeline/report"
	"github.com/convai-tools/latency-pipeline/transcript"
)

const (
	runsTable  = "latency_runs"
	nodesTable = "latency_nodes"
	turnsTable = "latency_turns"
)

// Store records analysis runs in SQLite so that runs can be compared over
// time. Turn rows are keyed by (run_id, conversation_id, turn_index).
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("store: db path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "store: create %s", dir)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "store: open %s", path)
	}
	if err := ensureTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ensureTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + runsTable + ` (
			run_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			analysis_date TEXT NOT NULL,
			root_llm TEXT NOT NULL,
			generated_at_ms INTEGER NOT NULL,
			conversations INTEGER NOT NULL,
			turns INTEGER NOT NULL,
			llm_ttfb_mean REAL,
			llm_ttfb_p95 REAL,
			outliers INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ` + nodesTable + ` (
			run_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			label TEXT NOT NULL,
			llm_model TEXT NOT NULL,
			llm_type TEXT NOT NULL,
			is_inherited INTEGER NOT NULL,
			PRIMARY KEY (run_id, node_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + turnsTable + ` (
			run_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			turn_index INTEGER NOT NULL,
			time_in_call_secs INTEGER NOT NULL,
			active_node_id TEXT NOT NULL,
			active_node TEXT NOT NULL,
			active_llm TEXT NOT NULL,
			llm_type TEXT NOT NULL,
			llm_ttfb_ms INTEGER,
			tts_ttfb_ms INTEGER,
			ttf_first_sentence_ms INTEGER,
			response_latency_secs_coarse INTEGER,
			turn_duration_ms INTEGER,
			response_word_count INTEGER NOT NULL,
			response_char_count INTEGER NOT NULL,
			has_tool_calls INTEGER NOT NULL,
			tool_names TEXT NOT NULL,
			interrupted INTEGER NOT NULL,
			node_attribution_method TEXT NOT NULL,
			PRIMARY KEY (run_id, conversation_id, turn_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_latency_turns_node ON ` + turnsTable + ` (run_id, active_node)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrap(err, "store: create tables")
		}
	}
	return nil
}

// SaveBundle writes the run, its node map and every turn record in one
// transaction.
func (s *Store) SaveBundle(ctx context.Context, b *report.Bundle) error {
	if b == nil {
		return errors.New("store: nil bundle")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "store: begin")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO `+runsTable+` (run_id, agent_id, analysis_date, root_llm, generated_at_ms, conversations, turns, llm_ttfb_mean, llm_ttfb_p95, outliers)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.RunID, b.AgentID, b.AnalysisDate, b.RootLLM, b.GeneratedAt.UnixMilli(),
		b.ConversationsAnalyzed, len(b.Turns), b.Summary.LLMTTFB.Mean, b.Summary.LLMTTFB.P95, len(b.Summary.Outliers),
	); err != nil {
		return errors.Wrapf(err, "store: insert run %s", b.RunID)
	}

	nodeStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO `+nodesTable+` (run_id, node_id, label, llm_model, llm_type, is_inherited) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "store: prepare nodes")
	}
	defer nodeStmt.Close()
	for id, n := range b.NodeLLMMap {
		if _, err := nodeStmt.ExecContext(ctx, b.RunID, id, n.Label, n.LLMModel, n.LLMType, boolToInt(n.IsInherited)); err != nil {
			return errors.Wrapf(err, "store: insert node %s", id)
		}
	}

	turnStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO `+turnsTable+` (run_id, conversation_id, turn_index, time_in_call_secs, active_node_id, active_node, active_llm, llm_type,
			llm_ttfb_ms, tts_ttfb_ms, ttf_first_sentence_ms, response_latency_secs_coarse, turn_duration_ms,
			response_word_count, response_char_count, has_tool_calls, tool_names, interrupted, node_attribution_method)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "store: prepare turns")
	}
	defer turnStmt.Close()
	for _, t := range b.Turns {
		tools, err := json.Marshal(t.ToolNames)
		if err != nil {
			return errors.Wrap(err, "store: encode tool names")
		}
		if _, err := turnStmt.ExecContext(ctx,
			b.RunID, t.ConversationID, t.TurnIndex, t.TimeInCallSecs, t.ActiveNodeID, t.ActiveNode, t.ActiveLLM, t.LLMType,
			t.LLMTTFBMs, t.TTSTTFBMs, t.TTFFirstSentenceMs, t.ResponseLatencySecsCoarse, t.TurnDurationMs,
			t.ResponseWordCount, t.ResponseCharCount, boolToInt(t.HasToolCalls), string(tools), boolToInt(t.Interrupted), t.NodeAttributionMethod,
		); err != nil {
			return errors.Wrapf(err, "store: insert turn %s/%d", t.ConversationID, t.TurnIndex)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "store: commit")
	}
	return nil
}

// Turns loads a run's turn records in conversation and turn order.
func (s *Store) Turns(ctx context.Context, runID string) ([]transcript.TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, turn_index, time_in_call_secs, active_node_id, active_node, active_llm, llm_type,
			llm_ttfb_ms, tts_ttfb_ms, ttf_first_sentence_ms, response_latency_secs_coarse, turn_duration_ms,
			response_word_count, response_char_count, has_tool_calls, tool_names, interrupted, node_attribution_method
		 FROM `+turnsTable+` WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "store: query turns %s", runID)
	}
	defer rows.Close()

	out := []transcript.TurnRecord{}
	for rows.Next() {
		var (
			t                            transcript.TurnRecord
			llm, tts, sentence, duration sql.NullInt64
			coarse                       sql.NullInt64
			hasTools, interrupted        int
			tools                        string
		)
		if err := rows.Scan(&t.ConversationID, &t.TurnIndex, &t.TimeInCallSecs, &t.ActiveNodeID, &t.ActiveNode, &t.ActiveLLM, &t.LLMType,
			&llm, &tts, &sentence, &coarse, &duration,
			&t.ResponseWordCount, &t.ResponseCharCount, &hasTools, &tools, &interrupted, &t.NodeAttributionMethod); err != nil {
			return nil, errors.Wrap(err, "store: scan turn")
		}
		if err := json.Unmarshal([]byte(tools), &t.ToolNames); err != nil {
			return nil, errors.Wrap(err, "store: decode tool names")
		}
		t.Role = transcript.RoleAgent
		t.LLMTTFBMs = nullInt64(llm)
		t.TTSTTFBMs = nullInt64(tts)
		t.TTFFirstSentenceMs = nullInt64(sentence)
		t.TurnDurationMs = nullInt64(duration)
		if coarse.Valid {
			v := int(coarse.Int64)
			t.ResponseLatencySecsCoarse = &v
		}
		t.HasToolCalls = hasTools != 0
		t.Interrupted = interrupted != 0
		out = append(out, t)
	}
	return out, errors.Wrap(rows.Err(), "store: iterate turns")
}

// RunIDs lists recorded runs, newest first.
func (s *Store) RunIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id FROM `+runsTable+` ORDER BY generated_at_ms DESC, run_id`)
	if err != nil {
		return nil, errors.Wrap(err, "store: query runs")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "store: scan run")
		}
		out = append(out, id)
	}
	return out, errors.Wrap(rows.Err(), "store: iterate runs")
}

func nullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	out := v.Int64
	return &out
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
