package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"reelforge/internal/script"
)

const versionColumns = "id, project_id, version_number, scenes_json, content_hash, is_current, is_candidate, parent_version_id, created_by, change_summary, analysis_json, analysis_score, provenance_json, created_at"

const recommendationColumns = "id, script_version_id, scene_id, scene_number, priority, area, current_text, suggested_text, reasoning, expected_impact, score_delta, confidence, source_agent, applied_at, created_at"

const jobColumns = "job_id, project_id, idempotency_key, status, step, progress, error_message, error_kind, can_retry, candidate_version_id, scenes_json, full_script, retry_of, attempt, last_heartbeat, created_at, updated_at, started_at, completed_at"

type scanner interface{ Scan(dest ...any) error }

func scanVersion(row scanner) (*script.Version, error) {
	var (
		v             script.Version
		scenesRaw     string
		isCurrent     int
		isCandidate   int
		parentID      sql.NullInt64
		createdBy     string
		changeSummary sql.NullString
		analysisRaw   sql.NullString
		analysisScore sql.NullInt64
		provenanceRaw string
		createdRaw    string
	)
	if err := row.Scan(
		&v.ID,
		&v.ProjectID,
		&v.VersionNumber,
		&scenesRaw,
		&v.ContentHash,
		&isCurrent,
		&isCandidate,
		&parentID,
		&createdBy,
		&changeSummary,
		&analysisRaw,
		&analysisScore,
		&provenanceRaw,
		&createdRaw,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(scenesRaw), &v.Scenes); err != nil {
		return nil, fmt.Errorf("decode scenes for version %d: %w", v.ID, err)
	}
	if err := json.Unmarshal([]byte(provenanceRaw), &v.Provenance); err != nil {
		return nil, fmt.Errorf("decode provenance for version %d: %w", v.ID, err)
	}
	if analysisRaw.Valid && analysisRaw.String != "" {
		var analysis script.Analysis
		if err := json.Unmarshal([]byte(analysisRaw.String), &analysis); err != nil {
			return nil, fmt.Errorf("decode analysis for version %d: %w", v.ID, err)
		}
		v.Analysis = &analysis
	}
	if analysisScore.Valid {
		score := int(analysisScore.Int64)
		v.AnalysisScore = &score
	}
	if parentID.Valid {
		parent := parentID.Int64
		v.ParentVersionID = &parent
	}
	v.IsCurrent = isCurrent != 0
	v.IsCandidate = isCandidate != 0
	v.CreatedBy = script.CreatedBy(createdBy)
	v.ChangeSummary = changeSummary.String
	if created, err := parseTimeString(createdRaw); err == nil {
		v.CreatedAt = created
	}
	return &v, nil
}

func scanRecommendation(row scanner) (script.Recommendation, error) {
	var (
		rec            script.Recommendation
		sceneID        sql.NullString
		priority       string
		area           sql.NullString
		currentText    sql.NullString
		reasoning      sql.NullString
		expectedImpact sql.NullString
		sourceAgent    sql.NullString
		appliedRaw     sql.NullString
		createdRaw     string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.ScriptVersionID,
		&sceneID,
		&rec.SceneNumber,
		&priority,
		&area,
		&currentText,
		&rec.SuggestedText,
		&reasoning,
		&expectedImpact,
		&rec.ScoreDelta,
		&rec.Confidence,
		&sourceAgent,
		&appliedRaw,
		&createdRaw,
	); err != nil {
		return script.Recommendation{}, err
	}
	rec.SceneID = sceneID.String
	rec.Priority = script.Priority(priority)
	rec.Area = area.String
	rec.CurrentText = currentText.String
	rec.Reasoning = reasoning.String
	rec.ExpectedImpact = expectedImpact.String
	rec.SourceAgent = sourceAgent.String
	if appliedRaw.Valid {
		if applied, err := parseTimeString(appliedRaw.String); err == nil {
			rec.AppliedAt = &applied
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		rec.CreatedAt = created
	}
	return rec, nil
}

func scanJob(row scanner) (*script.Job, error) {
	var (
		job          script.Job
		status       string
		step         sql.NullString
		errorMessage sql.NullString
		errorKind    sql.NullString
		canRetry     int
		candidateID  sql.NullInt64
		scenesRaw    string
		fullScript   sql.NullString
		retryOf      sql.NullString
		heartbeatRaw sql.NullString
		createdRaw   string
		updatedRaw   string
		startedRaw   sql.NullString
		completedRaw sql.NullString
	)
	if err := row.Scan(
		&job.JobID,
		&job.ProjectID,
		&job.IdempotencyKey,
		&status,
		&step,
		&job.Progress,
		&errorMessage,
		&errorKind,
		&canRetry,
		&candidateID,
		&scenesRaw,
		&fullScript,
		&retryOf,
		&job.Attempt,
		&heartbeatRaw,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(scenesRaw), &job.Scenes); err != nil {
		return nil, fmt.Errorf("decode scenes for job %s: %w", job.JobID, err)
	}
	job.Status = script.JobStatus(status)
	job.Step = script.Step(step.String)
	job.Error = errorMessage.String
	job.ErrorKind = errorKind.String
	job.CanRetry = canRetry != 0
	if candidateID.Valid {
		id := candidateID.Int64
		job.CandidateVersionID = &id
	}
	job.FullScript = fullScript.String
	job.RetryOf = retryOf.String
	job.LastHeartbeat = parseNullableTime(heartbeatRaw)
	job.StartedAt = parseNullableTime(startedRaw)
	job.CompletedAt = parseNullableTime(completedRaw)
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	return &job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func nullableInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// timeLayout keeps a fixed fraction width so stored timestamps compare
// correctly as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func marshalJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
