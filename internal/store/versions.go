package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"reelforge/internal/script"
	"reelforge/internal/services"
)

// ProjectSummary is a per-project rollup used by listings.
type ProjectSummary struct {
	ProjectID      string `json:"projectId" yaml:"projectId"`
	VersionCount   int    `json:"versionCount" yaml:"versionCount"`
	CurrentVersion int    `json:"currentVersion" yaml:"currentVersion"`
	HasCandidate   bool   `json:"hasCandidate" yaml:"hasCandidate"`
}

// CreateVersion appends a new snapshot for the project.
//
// SlotCurrent demotes the prior current version and carries its unapplied
// recommendations forward; it fails with ErrCandidatePending while a
// candidate awaits a decision. SlotCandidate fails with ErrCandidateExists
// unless SupersedeCandidate is set, in which case the old candidate and its
// recommendations are deleted first. When ParentVersionID is set for either
// slot it must still be the current version, otherwise
// ErrConcurrentModification is returned.
func (s *Store) CreateVersion(ctx context.Context, params script.NewVersion) (*script.Version, error) {
	var created *script.Version
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		v, err := s.createVersionTx(ctx, tx, params)
		created = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) createVersionTx(ctx context.Context, tx *sql.Tx, params script.NewVersion) (*script.Version, error) {
	params.ProjectID = strings.TrimSpace(params.ProjectID)
	if params.ProjectID == "" {
		return nil, services.Wrap(services.ErrValidation, "", "create version", "project id required", nil)
	}
	if err := params.Scenes.Validate(); err != nil {
		return nil, err
	}
	if params.CreatedBy == "" {
		params.CreatedBy = script.CreatedByHuman
	}

	current, err := currentVersionTx(ctx, tx, params.ProjectID)
	if err != nil {
		return nil, err
	}
	candidate, err := candidateVersionTx(ctx, tx, params.ProjectID)
	if err != nil {
		return nil, err
	}

	parentID := params.ParentVersionID
	switch params.Slot {
	case script.SlotCurrent, script.SlotCandidate:
		if parentID != nil && (current == nil || current.ID != *parentID) {
			return nil, script.ErrConcurrentModification
		}
		if current != nil {
			id := current.ID
			parentID = &id
		}
	}

	switch params.Slot {
	case script.SlotCurrent:
		if candidate != nil {
			return nil, fmt.Errorf("candidate version %d is pending: %w", candidate.VersionNumber, script.ErrCandidatePending)
		}
	case script.SlotCandidate:
		if current == nil {
			return nil, script.ErrProjectNotFound
		}
		if candidate != nil {
			if !params.SupersedeCandidate {
				return nil, fmt.Errorf("version %d: %w", candidate.VersionNumber, script.ErrCandidateExists)
			}
			if err := ensureCandidateIdleTx(ctx, tx, candidate.ID); err != nil {
				return nil, err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM script_versions WHERE id = ?`, candidate.ID); err != nil {
				return nil, fmt.Errorf("delete superseded candidate: %w", err)
			}
		}
	}

	if len(params.AppliedRecommendationIDs) > 0 {
		if params.Slot != script.SlotCurrent || current == nil {
			return nil, services.Wrap(services.ErrValidation, "", "create version", "applied recommendations require a new current version", nil)
		}
		if err := s.markAppliedForVersionTx(ctx, tx, current.ID, params.AppliedRecommendationIDs); err != nil {
			return nil, err
		}
	}

	var number int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version_number), 0) + 1 FROM script_versions WHERE project_id = ?`,
		params.ProjectID,
	).Scan(&number); err != nil {
		return nil, fmt.Errorf("next version number: %w", err)
	}

	if params.Slot == script.SlotCurrent && current != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE script_versions SET is_current = 0 WHERE id = ?`, current.ID); err != nil {
			return nil, fmt.Errorf("demote current version: %w", err)
		}
	}

	now := s.timestamp()
	provenance := params.Provenance
	if provenance.At.IsZero() {
		provenance.At = now
	}
	if provenance.Source == "" {
		provenance.Source = script.SourceHumanEdit
	}
	scenes := params.Scenes.Clone()
	scenesJSON, err := marshalJSON(scenes)
	if err != nil {
		return nil, fmt.Errorf("encode scenes: %w", err)
	}
	provenanceJSON, err := marshalJSON(provenance)
	if err != nil {
		return nil, fmt.Errorf("encode provenance: %w", err)
	}
	analysisJSON, analysisScore, err := encodeAnalysis(params.Analysis)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO script_versions (
            project_id, version_number, scenes_json, content_hash, is_current, is_candidate,
            parent_version_id, created_by, change_summary, analysis_json, analysis_score,
            provenance_json, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		params.ProjectID,
		number,
		scenesJSON,
		scenes.ContentHash(),
		boolToInt(params.Slot == script.SlotCurrent),
		boolToInt(params.Slot == script.SlotCandidate),
		nullableInt64(parentID),
		string(params.CreatedBy),
		nullableString(params.ChangeSummary),
		analysisJSON,
		analysisScore,
		provenanceJSON,
		formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			if params.Slot == script.SlotCandidate {
				return nil, script.ErrCandidateExists
			}
			return nil, script.ErrConcurrentModification
		}
		return nil, fmt.Errorf("insert version: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if len(params.Recommendations) > 0 {
		if err := s.insertRecommendationsTx(ctx, tx, id, params.Recommendations); err != nil {
			return nil, err
		}
	}
	if params.Slot == script.SlotCurrent && current != nil {
		if _, err := s.copyUnappliedTx(ctx, tx, id, current.ID); err != nil {
			return nil, err
		}
	}

	return getVersionTx(ctx, tx, id)
}

// AcceptCandidate promotes the candidate to current. The prior current
// version stays as history.
func (s *Store) AcceptCandidate(ctx context.Context, projectID string, versionID int64) (*script.Version, error) {
	var accepted *script.Version
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		v, err := projectVersionTx(ctx, tx, projectID, versionID)
		if err != nil {
			return err
		}
		if !v.IsCandidate {
			return fmt.Errorf("version %d: %w", v.VersionNumber, script.ErrNotCandidate)
		}
		if err := ensureCandidateIdleTx(ctx, tx, v.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE script_versions SET is_current = 0 WHERE project_id = ? AND is_current = 1`,
			projectID,
		); err != nil {
			return fmt.Errorf("demote current version: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE script_versions SET is_candidate = 0, is_current = 1 WHERE id = ?`,
			v.ID,
		); err != nil {
			return fmt.Errorf("promote candidate: %w", err)
		}
		accepted, err = getVersionTx(ctx, tx, v.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return accepted, nil
}

// RejectCandidate deletes the project's candidate together with its
// recommendations and returns the deleted snapshot.
func (s *Store) RejectCandidate(ctx context.Context, projectID string) (*script.Version, error) {
	var rejected *script.Version
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		candidate, err := candidateVersionTx(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if candidate == nil {
			return script.ErrNoCandidate
		}
		if err := s.deleteCandidateTx(ctx, tx, candidate); err != nil {
			return err
		}
		rejected = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

// DeleteVersion deletes versionID when it is the project's candidate. The
// current version and accepted history cannot be deleted.
func (s *Store) DeleteVersion(ctx context.Context, projectID string, versionID int64) (*script.Version, error) {
	var deleted *script.Version
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		v, err := projectVersionTx(ctx, tx, projectID, versionID)
		if err != nil {
			return err
		}
		switch {
		case v.IsCurrent:
			return script.ErrDeleteCurrent
		case !v.IsCandidate:
			return fmt.Errorf("version %d: %w", v.VersionNumber, script.ErrDeleteHistory)
		}
		if err := s.deleteCandidateTx(ctx, tx, v); err != nil {
			return err
		}
		deleted = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (s *Store) deleteCandidateTx(ctx context.Context, tx *sql.Tx, candidate *script.Version) error {
	if err := ensureCandidateIdleTx(ctx, tx, candidate.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM script_versions WHERE id = ? AND is_candidate = 1`, candidate.ID); err != nil {
		return fmt.Errorf("delete candidate: %w", err)
	}
	return nil
}

// RevertTo appends a new current version whose scenes equal versionID's
// snapshot. History is extended, never rewritten.
func (s *Store) RevertTo(ctx context.Context, projectID string, versionID int64, actor string) (*script.Version, error) {
	var reverted *script.Version
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		target, err := projectVersionTx(ctx, tx, projectID, versionID)
		if errors.Is(err, script.ErrVersionNotFound) {
			return fmt.Errorf("version id %d: %w", versionID, script.ErrRevertTarget)
		}
		if err != nil {
			return err
		}
		if target.IsCandidate {
			return services.Wrap(services.ErrInvalidState, "", "revert", "cannot revert to the pending candidate; accept it instead", nil)
		}
		reverted, err = s.createVersionTx(ctx, tx, script.NewVersion{
			ProjectID:     projectID,
			Scenes:        target.Scenes,
			CreatedBy:     script.CreatedByHuman,
			ChangeSummary: fmt.Sprintf("Reverted to version %d", target.VersionNumber),
			Provenance: script.Provenance{
				Source:                script.SourceRevert,
				Actor:                 actor,
				RevertedFromVersionID: target.ID,
			},
			Slot: script.SlotCurrent,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return reverted, nil
}

// GetVersion fetches a version that belongs to projectID.
func (s *Store) GetVersion(ctx context.Context, projectID string, versionID int64) (*script.Version, error) {
	return projectVersionTx(ensureContext(ctx), s.db, projectID, versionID)
}

// CurrentVersion returns the project head or ErrProjectNotFound.
func (s *Store) CurrentVersion(ctx context.Context, projectID string) (*script.Version, error) {
	v, err := currentVersionTx(ensureContext(ctx), s.db, projectID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, script.ErrProjectNotFound
	}
	return v, nil
}

// CandidateVersion returns the pending candidate or nil when there is none.
func (s *Store) CandidateVersion(ctx context.Context, projectID string) (*script.Version, error) {
	return candidateVersionTx(ensureContext(ctx), s.db, projectID)
}

// ListVersions returns the project history, newest first.
func (s *Store) ListVersions(ctx context.Context, projectID string) ([]*script.Version, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+versionColumns+` FROM script_versions WHERE project_id = ? ORDER BY version_number DESC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []*script.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// FindVersionByContent returns the current version when its content hash
// matches, or nil. Older snapshots and the candidate are never matched.
func (s *Store) FindVersionByContent(ctx context.Context, projectID, contentHash string) (*script.Version, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+versionColumns+` FROM script_versions
         WHERE project_id = ? AND content_hash = ? AND is_current = 1`,
		projectID, contentHash,
	)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find version by content: %w", err)
	}
	return v, nil
}

// ListProjects summarizes every project that has at least one version.
func (s *Store) ListProjects(ctx context.Context) ([]ProjectSummary, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT project_id, COUNT(1),
                COALESCE(MAX(CASE WHEN is_current = 1 THEN version_number END), 0),
                MAX(is_candidate)
         FROM script_versions GROUP BY project_id ORDER BY project_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []ProjectSummary
	for rows.Next() {
		var (
			summary      ProjectSummary
			hasCandidate int
		)
		if err := rows.Scan(&summary.ProjectID, &summary.VersionCount, &summary.CurrentVersion, &hasCandidate); err != nil {
			return nil, err
		}
		summary.HasCandidate = hasCandidate != 0
		projects = append(projects, summary)
	}
	return projects, rows.Err()
}

func encodeAnalysis(analysis *script.Analysis) (any, any, error) {
	if analysis == nil {
		return nil, nil, nil
	}
	encoded, err := marshalJSON(analysis)
	if err != nil {
		return nil, nil, fmt.Errorf("encode analysis: %w", err)
	}
	return encoded, analysis.OverallScore, nil
}

func getVersionTx(ctx context.Context, q querier, id int64) (*script.Version, error) {
	row := q.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM script_versions WHERE id = ?`, id)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("version id %d: %w", id, script.ErrVersionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

func projectVersionTx(ctx context.Context, q querier, projectID string, id int64) (*script.Version, error) {
	v, err := getVersionTx(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if v.ProjectID != projectID {
		return nil, fmt.Errorf("version id %d in project %s: %w", id, projectID, script.ErrVersionNotFound)
	}
	return v, nil
}

func slotVersionTx(ctx context.Context, q querier, projectID, column string) (*script.Version, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM script_versions WHERE project_id = ? AND `+column+` = 1`,
		projectID,
	)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s version: %w", strings.TrimPrefix(column, "is_"), err)
	}
	return v, nil
}

func currentVersionTx(ctx context.Context, q querier, projectID string) (*script.Version, error) {
	return slotVersionTx(ctx, q, projectID, "is_current")
}

func candidateVersionTx(ctx context.Context, q querier, projectID string) (*script.Version, error) {
	return slotVersionTx(ctx, q, projectID, "is_candidate")
}

func ensureCandidateIdleTx(ctx context.Context, q querier, versionID int64) error {
	var jobID string
	err := q.QueryRowContext(ctx,
		`SELECT job_id FROM reanalysis_jobs
         WHERE candidate_version_id = ? AND status IN (?, ?) LIMIT 1`,
		versionID, script.JobQueued, script.JobRunning,
	).Scan(&jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check candidate job: %w", err)
	}
	return fmt.Errorf("job %s: %w", jobID, script.ErrCandidateBusy)
}
