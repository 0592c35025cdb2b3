package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"reelforge/internal/api"
	"reelforge/internal/reconcile"
	"reelforge/internal/services"
)

const defaultTimeout = 30 * time.Second

// Client provides HTTP access to the daemon.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// New builds a client for the daemon at address, which may be a bare
// host:port or a full URL.
func New(address string, opts ...Option) *Client {
	base := strings.TrimRight(strings.TrimSpace(address), "/")
	if base != "" && !strings.Contains(base, "://") {
		base = "http://" + base
	}
	c := &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the daemon URL requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Error is a non-2xx daemon response.
type Error struct {
	StatusCode int
	Body       api.ErrorResponse
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Body.Error)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("reelforged: %s (%d)", msg, e.StatusCode)
}

// Unwrap maps the response kind back onto the services markers.
func (e *Error) Unwrap() error {
	switch e.Body.Kind {
	case "validation":
		return services.ErrValidation
	case "configuration":
		return services.ErrConfiguration
	case "not_found":
		return services.ErrNotFound
	case "conflict":
		return services.ErrConflict
	case "invalid_state":
		return services.ErrInvalidState
	case "timeout":
		return services.ErrTimeout
	case "upstream":
		return services.ErrUpstream
	case "unauthorized":
		return services.ErrConfiguration
	}
	switch {
	case e.StatusCode == http.StatusNotFound:
		return services.ErrNotFound
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusForbidden:
		return services.ErrConfiguration
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return services.ErrValidation
	}
	return services.ErrTransient
}

func projectPath(projectID string, parts ...string) string {
	segments := append([]string{"api", "projects", url.PathEscape(projectID)}, parts...)
	return "/" + strings.Join(segments, "/")
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}

// do sends body as JSON and decodes a 2xx response into out. Statuses in
// accept are decoded into out as well.
func (c *Client) do(ctx context.Context, method, path string, body, out any, accept ...int) (int, error) {
	if c.baseURL == "" {
		return 0, services.Wrap(services.ErrConfiguration, "", "api client", "daemon address not configured", nil)
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, services.Wrap(services.ErrTimeout, "", method+" "+path, "daemon did not respond", err)
		}
		return 0, services.Wrap(services.ErrTransient, "", method+" "+path, "daemon unreachable", err)
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	for _, code := range accept {
		if resp.StatusCode == code {
			ok = true
		}
	}
	if !ok {
		apiErr := &Error{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr.Body)
		}
		return resp.StatusCode, apiErr
	}
	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return resp.StatusCode, nil
}

// Health returns the daemon health summary.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListProjects returns every project with at least one version.
func (c *Client) ListProjects(ctx context.Context) ([]api.ProjectSummary, error) {
	var resp api.ProjectListResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/projects", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Projects, nil
}

// CreateVersion saves scenes as the project's current version.
func (c *Client) CreateVersion(ctx context.Context, projectID string, req api.CreateVersionRequest) (*api.CreateVersionResponse, error) {
	var resp api.CreateVersionResponse
	if _, err := c.do(ctx, http.MethodPost, projectPath(projectID, "versions"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListVersions returns the project's versions, newest first.
func (c *Client) ListVersions(ctx context.Context, projectID string) ([]api.Version, error) {
	var resp api.VersionListResponse
	if _, err := c.do(ctx, http.MethodGet, projectPath(projectID, "versions"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Versions, nil
}

// CurrentVersion returns the project's current version.
func (c *Client) CurrentVersion(ctx context.Context, projectID string) (*api.Version, error) {
	return c.version(ctx, http.MethodGet, projectPath(projectID, "versions", "current"), nil)
}

// GetVersion returns one version.
func (c *Client) GetVersion(ctx context.Context, projectID string, versionID int64) (*api.Version, error) {
	return c.version(ctx, http.MethodGet, projectPath(projectID, "versions", idString(versionID)), nil)
}

// AcceptVersion promotes the scored candidate to current.
func (c *Client) AcceptVersion(ctx context.Context, projectID string, versionID int64) (*api.Version, error) {
	return c.version(ctx, http.MethodPost, projectPath(projectID, "versions", idString(versionID), "accept"), nil)
}

// RevertToVersion creates a new current version copying versionID's scenes.
func (c *Client) RevertToVersion(ctx context.Context, projectID string, versionID int64, actor string) (*api.Version, error) {
	return c.version(ctx, http.MethodPost, projectPath(projectID, "versions", idString(versionID), "revert"), api.RevertRequest{Actor: actor})
}

// DeleteVersion removes a candidate version.
func (c *Client) DeleteVersion(ctx context.Context, projectID string, versionID int64) (*api.Version, error) {
	return c.version(ctx, http.MethodDelete, projectPath(projectID, "versions", idString(versionID)), nil)
}

// RejectCandidate discards the project's candidate.
func (c *Client) RejectCandidate(ctx context.Context, projectID string) (*api.Version, error) {
	return c.version(ctx, http.MethodDelete, projectPath(projectID, "candidate"), nil)
}

func (c *Client) version(ctx context.Context, method, path string, body any) (*api.Version, error) {
	var resp api.VersionResponse
	if _, err := c.do(ctx, method, path, body, &resp); err != nil {
		return nil, err
	}
	return &resp.Version, nil
}

// CompareVersions diffs target against base.
func (c *Client) CompareVersions(ctx context.Context, projectID string, baseID, targetID int64) (*api.Comparison, error) {
	query := url.Values{}
	query.Set("base", idString(baseID))
	query.Set("target", idString(targetID))
	var resp api.Comparison
	if _, err := c.do(ctx, http.MethodGet, projectPath(projectID, "compare")+"?"+query.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRecommendations returns the recommendations attached to a version.
// A zero versionID selects the current version.
func (c *Client) ListRecommendations(ctx context.Context, projectID string, versionID int64, includeApplied bool) (*api.RecommendationListResponse, error) {
	query := url.Values{}
	if versionID > 0 {
		query.Set("version", idString(versionID))
	}
	if includeApplied {
		query.Set("all", "true")
	}
	path := projectPath(projectID, "recommendations")
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var resp api.RecommendationListResponse
	if _, err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ApplyRecommendation applies one stored recommendation.
func (c *Client) ApplyRecommendation(ctx context.Context, projectID string, recommendationID int64) (*api.ApplyOneResponse, error) {
	var resp api.ApplyOneResponse
	path := projectPath(projectID, "recommendations", idString(recommendationID), "apply")
	if _, err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ApplyAllRecommendations applies every eligible recommendation, or only
// ids when given.
func (c *Client) ApplyAllRecommendations(ctx context.Context, projectID string, ids []int64) (*api.ApplyAllResponse, error) {
	var resp api.ApplyAllResponse
	path := projectPath(projectID, "recommendations", "apply-all")
	if _, err := c.do(ctx, http.MethodPost, path, api.ApplyAllRequest{RecommendationIDs: ids}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ApplyAll implements reconcile.Applier.
func (c *Client) ApplyAll(ctx context.Context, projectID string, ids []int64) (*reconcile.BatchResult, error) {
	resp, err := c.ApplyAllRecommendations(ctx, projectID, ids)
	if err != nil {
		return nil, err
	}
	return &reconcile.BatchResult{
		Version:         api.ToVersion(resp.Version),
		Applied:         resp.Applied,
		Skipped:         resp.Skipped,
		ChangedScenes:   resp.ChangedScenes,
		NeedsReanalysis: resp.NeedsReanalysis,
	}, nil
}

// StartReanalysis submits edited scenes for scoring. A job already in
// flight comes back as a response with Conflict set, not as an error.
func (c *Client) StartReanalysis(ctx context.Context, projectID string, req api.StartReanalysisRequest) (*api.StartReanalysisResponse, error) {
	var resp api.StartReanalysisResponse
	if _, err := c.do(ctx, http.MethodPost, projectPath(projectID, "reanalysis"), req, &resp, http.StatusConflict); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RetryJob re-runs a failed job.
func (c *Client) RetryJob(ctx context.Context, projectID, jobID string) (*api.StartReanalysisResponse, error) {
	var resp api.StartReanalysisResponse
	path := projectPath(projectID, "jobs", url.PathEscape(jobID), "retry")
	if _, err := c.do(ctx, http.MethodPost, path, nil, &resp, http.StatusConflict); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobStatus returns a job's progress.
func (c *Client) JobStatus(ctx context.Context, projectID, jobID string) (*api.Job, error) {
	var resp api.Job
	if _, err := c.do(ctx, http.MethodGet, projectPath(projectID, "jobs", url.PathEscape(jobID)), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListJobs returns the project's jobs, newest first.
func (c *Client) ListJobs(ctx context.Context, projectID string) ([]api.Job, error) {
	var resp api.JobListResponse
	if _, err := c.do(ctx, http.MethodGet, projectPath(projectID, "jobs"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}
