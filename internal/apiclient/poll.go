package apiclient

import (
	"context"
	"time"

	"reelforge/internal/api"
	"reelforge/internal/script"
)

// Terminal reports whether a job status will not change again.
func Terminal(status string) bool {
	return status == string(script.JobDone) || status == string(script.JobError)
}

// WaitForJob polls the job every interval until it reaches a terminal
// status or ctx ends. onProgress, when set, sees every poll result.
func (c *Client) WaitForJob(ctx context.Context, projectID, jobID string, interval time.Duration, onProgress func(api.Job)) (*api.Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := c.JobStatus(ctx, projectID, jobID)
		if err != nil {
			return nil, err
		}
		if onProgress != nil {
			onProgress(*job)
		}
		if Terminal(job.Status) {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}
