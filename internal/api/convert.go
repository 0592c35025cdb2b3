package api

import (
	"slices"
	"time"

	"reelforge/internal/script"
	"reelforge/internal/store"
)

// FromVersion converts a stored version to its API representation.
func FromVersion(v *script.Version) Version {
	if v == nil {
		return Version{}
	}
	dto := Version{
		ID:              v.ID,
		ProjectID:       v.ProjectID,
		VersionNumber:   v.VersionNumber,
		Scenes:          v.Scenes.Clone(),
		IsCurrent:       v.IsCurrent,
		IsCandidate:     v.IsCandidate,
		ParentVersionID: v.ParentVersionID,
		CreatedBy:       string(v.CreatedBy),
		ChangeSummary:   v.ChangeSummary,
		AnalysisResult:  v.Analysis,
		AnalysisScore:   v.AnalysisScore,
		ContentHash:     v.ContentHash,
		CreatedAt:       formatTime(v.CreatedAt),
		Provenance: Provenance{
			Source:                string(v.Provenance.Source),
			Actor:                 v.Provenance.Actor,
			RecommendationIDs:     slices.Clone(v.Provenance.RecommendationIDs),
			RevertedFromVersionID: v.Provenance.RevertedFromVersionID,
			JobID:                 v.Provenance.JobID,
			At:                    formatTime(v.Provenance.At),
		},
	}
	if v.AnalysisScore != nil {
		dto.Verdict = string(script.VerdictFor(*v.AnalysisScore))
	}
	return dto
}

// FromVersions converts a slice of stored versions.
func FromVersions(versions []*script.Version) []Version {
	out := make([]Version, 0, len(versions))
	for _, v := range versions {
		out = append(out, FromVersion(v))
	}
	return out
}

// ToVersion converts a DTO back into the store model. Unparseable
// timestamps are left zero.
func ToVersion(dto Version) *script.Version {
	v := &script.Version{
		ID:              dto.ID,
		ProjectID:       dto.ProjectID,
		VersionNumber:   dto.VersionNumber,
		Scenes:          script.Scenes(dto.Scenes).Clone(),
		IsCurrent:       dto.IsCurrent,
		IsCandidate:     dto.IsCandidate,
		ParentVersionID: dto.ParentVersionID,
		CreatedBy:       script.CreatedBy(dto.CreatedBy),
		ChangeSummary:   dto.ChangeSummary,
		Analysis:        dto.AnalysisResult,
		AnalysisScore:   dto.AnalysisScore,
		ContentHash:     dto.ContentHash,
		CreatedAt:       parseTime(dto.CreatedAt),
		Provenance: script.Provenance{
			Source:                script.Source(dto.Provenance.Source),
			Actor:                 dto.Provenance.Actor,
			RecommendationIDs:     slices.Clone(dto.Provenance.RecommendationIDs),
			RevertedFromVersionID: dto.Provenance.RevertedFromVersionID,
			JobID:                 dto.Provenance.JobID,
			At:                    parseTime(dto.Provenance.At),
		},
	}
	return v
}

// FromRecommendation converts a stored recommendation. Eligible reflects
// the bulk-apply rule at threshold.
func FromRecommendation(rec script.Recommendation, threshold float64) Recommendation {
	dto := Recommendation{
		ID:              rec.ID,
		ScriptVersionID: rec.ScriptVersionID,
		SceneNumber:     rec.SceneNumber,
		Priority:        string(rec.Priority),
		Area:            rec.Area,
		CurrentText:     rec.CurrentText,
		SuggestedText:   rec.SuggestedText,
		Reasoning:       rec.Reasoning,
		ExpectedImpact:  rec.ExpectedImpact,
		ScoreDelta:      rec.ScoreDelta,
		Confidence:      rec.Confidence,
		SourceAgent:     rec.SourceAgent,
		Eligible:        rec.Eligible(threshold),
		CreatedAt:       formatTime(rec.CreatedAt),
	}
	if rec.AppliedAt != nil {
		dto.AppliedAt = formatTime(*rec.AppliedAt)
	}
	return dto
}

// ToRecommendation converts a DTO back into the store model.
func ToRecommendation(dto Recommendation) script.Recommendation {
	rec := script.Recommendation{
		ID:              dto.ID,
		ScriptVersionID: dto.ScriptVersionID,
		SceneNumber:     dto.SceneNumber,
		Priority:        script.ParsePriority(dto.Priority),
		Area:            dto.Area,
		CurrentText:     dto.CurrentText,
		SuggestedText:   dto.SuggestedText,
		Reasoning:       dto.Reasoning,
		ExpectedImpact:  dto.ExpectedImpact,
		ScoreDelta:      dto.ScoreDelta,
		Confidence:      dto.Confidence,
		SourceAgent:     dto.SourceAgent,
		CreatedAt:       parseTime(dto.CreatedAt),
	}
	if applied := parseTime(dto.AppliedAt); !applied.IsZero() {
		rec.AppliedAt = &applied
	}
	return rec
}

// FromJob converts a stored job.
func FromJob(job *script.Job) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		JobID:              job.JobID,
		ProjectID:          job.ProjectID,
		Status:             string(job.Status),
		Step:               string(job.Step),
		Progress:           job.Progress,
		Error:              job.Error,
		ErrorKind:          job.ErrorKind,
		CanRetry:           job.CanRetry,
		CandidateVersionID: job.CandidateVersionID,
		IdempotencyKey:     job.IdempotencyKey,
		RetryOf:            job.RetryOf,
		Attempt:            job.Attempt,
		CreatedAt:          formatTime(job.CreatedAt),
		UpdatedAt:          formatTime(job.UpdatedAt),
	}
	if job.LastHeartbeat != nil {
		dto.LastHeartbeat = formatTime(*job.LastHeartbeat)
	}
	if job.CompletedAt != nil {
		dto.CompletedAt = formatTime(*job.CompletedAt)
	}
	return dto
}

// FromJobs converts a slice of stored jobs.
func FromJobs(jobs []*script.Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// FromProjectSummaries converts store rollups.
func FromProjectSummaries(projects []store.ProjectSummary) []ProjectSummary {
	out := make([]ProjectSummary, 0, len(projects))
	for _, p := range projects {
		out = append(out, ProjectSummary{
			ProjectID:      p.ProjectID,
			VersionCount:   p.VersionCount,
			CurrentVersion: p.CurrentVersion,
			HasCandidate:   p.HasCandidate,
		})
	}
	return out
}

func summarize(v *script.Version) VersionSummary {
	summary := VersionSummary{
		ID:            v.ID,
		VersionNumber: v.VersionNumber,
		IsCurrent:     v.IsCurrent,
		IsCandidate:   v.IsCandidate,
		AnalysisScore: v.AnalysisScore,
		Scenes:        v.Scenes.Clone(),
	}
	if v.AnalysisScore != nil {
		summary.Verdict = string(script.VerdictFor(*v.AnalysisScore))
	}
	return summary
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
