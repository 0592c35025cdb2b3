package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"reelforge/internal/script"
)

// ListRecommendations returns every recommendation on a version, applied and
// unapplied, in insertion order.
func (s *Store) ListRecommendations(ctx context.Context, versionID int64) ([]script.Recommendation, error) {
	return listRecommendationsTx(ensureContext(ctx), s.db, versionID)
}

// GetRecommendation fetches a persisted recommendation by id.
func (s *Store) GetRecommendation(ctx context.Context, id int64) (script.Recommendation, error) {
	if id <= 0 {
		return script.Recommendation{}, fmt.Errorf("recommendation %d: %w", id, script.ErrFreshRecommendation)
	}
	return getRecommendationTx(ensureContext(ctx), s.db, id)
}

// MarkApplied stamps appliedAt on a recommendation. Marking an already
// applied recommendation is a no-op.
func (s *Store) MarkApplied(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("recommendation %d: %w", id, script.ErrFreshRecommendation)
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE scene_recommendations SET applied_at = ? WHERE id = ? AND applied_at IS NULL`,
		formatTime(s.timestamp()), id,
	)
	if err != nil {
		return fmt.Errorf("mark recommendation applied: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected > 0 {
		return nil
	}
	if _, err := getRecommendationTx(ensureContext(ctx), s.db, id); err != nil {
		return err
	}
	return nil
}

// CopyUnappliedTo copies the unapplied recommendations of fromVersionID onto
// newVersionID with fresh ids and returns how many were copied.
func (s *Store) CopyUnappliedTo(ctx context.Context, newVersionID, fromVersionID int64) (int, error) {
	var copied int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getVersionTx(ctx, tx, newVersionID); err != nil {
			return err
		}
		n, err := s.copyUnappliedTx(ctx, tx, newVersionID, fromVersionID)
		copied = n
		return err
	})
	return copied, err
}

func (s *Store) insertRecommendationsTx(ctx context.Context, tx *sql.Tx, versionID int64, recs []script.Recommendation) error {
	position, err := nextPositionTx(ctx, tx, versionID)
	if err != nil {
		return err
	}
	created := formatTime(s.timestamp())
	for _, rec := range recs {
		sceneID := rec.SceneID
		if sceneID == "" {
			sceneID = "scene-" + strconv.Itoa(rec.SceneNumber)
		}
		priority := script.ParsePriority(string(rec.Priority))
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scene_recommendations (
                script_version_id, position, scene_id, scene_number, priority, area, current_text,
                suggested_text, reasoning, expected_impact, score_delta, confidence, source_agent,
                applied_at, created_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			versionID,
			position,
			sceneID,
			rec.SceneNumber,
			string(priority),
			nullableString(rec.Area),
			nullableString(rec.CurrentText),
			rec.SuggestedText,
			nullableString(rec.Reasoning),
			nullableString(rec.ExpectedImpact),
			rec.ScoreDelta,
			rec.Confidence,
			nullableString(rec.SourceAgent),
			nullableTime(rec.AppliedAt),
			created,
		); err != nil {
			return fmt.Errorf("insert recommendation: %w", err)
		}
		position++
	}
	return nil
}

func (s *Store) copyUnappliedTx(ctx context.Context, tx *sql.Tx, newVersionID, fromVersionID int64) (int, error) {
	position, err := nextPositionTx(ctx, tx, newVersionID)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO scene_recommendations (
            script_version_id, position, scene_id, scene_number, priority, area, current_text,
            suggested_text, reasoning, expected_impact, score_delta, confidence, source_agent,
            applied_at, copied_from_id, created_at
        )
        SELECT ?, ? + position, scene_id, scene_number, priority, area, current_text,
               suggested_text, reasoning, expected_impact, score_delta, confidence, source_agent,
               NULL, id, ?
        FROM scene_recommendations
        WHERE script_version_id = ? AND applied_at IS NULL
        ORDER BY position, id`,
		newVersionID, position, formatTime(s.timestamp()), fromVersionID,
	)
	if err != nil {
		return 0, fmt.Errorf("copy unapplied recommendations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("copy unapplied recommendations: %w", err)
	}
	return int(n), nil
}

// markAppliedForVersionTx marks each id applied after checking it belongs to
// versionID and is still actionable.
func (s *Store) markAppliedForVersionTx(ctx context.Context, tx *sql.Tx, versionID int64, ids []int64) error {
	now := formatTime(s.timestamp())
	for _, id := range ids {
		if id <= 0 {
			return fmt.Errorf("recommendation %d: %w", id, script.ErrFreshRecommendation)
		}
		rec, err := getRecommendationTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if rec.ScriptVersionID != versionID {
			return fmt.Errorf("recommendation %d is not on version id %d: %w", id, versionID, script.ErrRecommendationNotFound)
		}
		if rec.IsApplied() {
			return fmt.Errorf("recommendation %d: %w", id, script.ErrAlreadyApplied)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE scene_recommendations SET applied_at = ? WHERE id = ? AND applied_at IS NULL`,
			now, id,
		); err != nil {
			return fmt.Errorf("mark recommendation applied: %w", err)
		}
	}
	return nil
}

func nextPositionTx(ctx context.Context, q querier, versionID int64) (int, error) {
	var position int
	if err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM scene_recommendations WHERE script_version_id = ?`,
		versionID,
	).Scan(&position); err != nil {
		return 0, fmt.Errorf("next recommendation position: %w", err)
	}
	return position, nil
}

func listRecommendationsTx(ctx context.Context, q querier, versionID int64) ([]script.Recommendation, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+recommendationColumns+` FROM scene_recommendations
         WHERE script_version_id = ? ORDER BY position, id`,
		versionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	defer rows.Close()

	recs := []script.Recommendation{}
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func getRecommendationTx(ctx context.Context, q querier, id int64) (script.Recommendation, error) {
	row := q.QueryRowContext(ctx, `SELECT `+recommendationColumns+` FROM scene_recommendations WHERE id = ?`, id)
	rec, err := scanRecommendation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return script.Recommendation{}, fmt.Errorf("recommendation %d: %w", id, script.ErrRecommendationNotFound)
	}
	if err != nil {
		return script.Recommendation{}, fmt.Errorf("get recommendation: %w", err)
	}
	return rec, nil
}
