package resume

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"reelforge/internal/logging"
	"reelforge/internal/script"
)

// Payload is the request last submitted for a project.
type Payload struct {
	Scenes         script.Scenes `json:"scenes"`
	FullScript     string        `json:"full_script"`
	IdempotencyKey string        `json:"idempotency_key"`
	ContentType    string        `json:"content_type,omitempty"`
}

// Entry ties a project to the reanalysis job the client is waiting on.
type Entry struct {
	ProjectID   string    `json:"project_id"`
	JobID       string    `json:"job_id"`
	LastPayload Payload   `json:"last_payload"`
	SavedAt     time.Time `json:"saved_at"`
}

// Cache reads and writes the resume file. Every operation re-reads the file
// under the lock so concurrent processes never clobber each other's entries.
type Cache struct {
	path   string
	lock   *flock.Flock
	logger *slog.Logger
}

// New returns a cache backed by path. An empty path disables the cache.
func New(path string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = logging.NewNop()
	}
	path = strings.TrimSpace(path)
	c := &Cache{path: path, logger: logging.NewComponentLogger(logger, "resume")}
	if path != "" {
		c.lock = flock.New(path + ".lock")
	}
	return c
}

// Path reports the backing file.
func (c *Cache) Path() string {
	return c.path
}

// Save records entry, replacing any earlier entry for the same project.
func (c *Cache) Save(entry Entry) error {
	entry.ProjectID = strings.TrimSpace(entry.ProjectID)
	entry.JobID = strings.TrimSpace(entry.JobID)
	if entry.ProjectID == "" || entry.JobID == "" {
		return errors.New("resume entry requires project and job id")
	}
	if c.path == "" {
		return nil
	}
	if entry.SavedAt.IsZero() {
		entry.SavedAt = time.Now().UTC()
	}
	return c.update(func(entries map[string]Entry) bool {
		entries[entry.ProjectID] = entry
		return true
	})
}

// Load returns the entry for projectID, if any.
func (c *Cache) Load(projectID string) (Entry, bool, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" || c.path == "" {
		return Entry{}, false, nil
	}
	if err := c.acquire(); err != nil {
		return Entry{}, false, err
	}
	defer c.release()

	entries, err := c.read()
	if err != nil {
		return Entry{}, false, err
	}
	entry, ok := entries[projectID]
	return entry, ok, nil
}

// Clear forgets projectID. Clearing an unknown project is not an error.
func (c *Cache) Clear(projectID string) error {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" || c.path == "" {
		return nil
	}
	return c.update(func(entries map[string]Entry) bool {
		if _, ok := entries[projectID]; !ok {
			return false
		}
		delete(entries, projectID)
		return true
	})
}

// List returns every entry, newest first.
func (c *Cache) List() ([]Entry, error) {
	if c.path == "" {
		return nil, nil
	}
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	entries, err := c.read()
	if err != nil {
		return nil, err
	}
	return sorted(entries), nil
}

func (c *Cache) update(mutate func(map[string]Entry) bool) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	entries, err := c.read()
	if err != nil {
		// Corrupt files are replaced by the next write.
		c.logger.Warn("resume cache unreadable; starting empty",
			logging.String(logging.FieldEventType, "resume_cache_corrupt"),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "delete "+c.path+" if this repeats"),
			logging.String(logging.FieldImpact, "interrupted reanalysis runs will not resume"))
		entries = make(map[string]Entry)
	}
	if !mutate(entries) {
		return nil
	}
	return c.write(entries)
}

func (c *Cache) acquire() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create resume directory: %w", err)
	}
	if err := c.lock.Lock(); err != nil {
		return fmt.Errorf("lock resume cache: %w", err)
	}
	return nil
}

func (c *Cache) release() {
	if err := c.lock.Unlock(); err != nil {
		c.logger.Debug("release resume lock failed", logging.Error(err))
	}
}

func (c *Cache) read() (map[string]Entry, error) {
	entries := make(map[string]Entry)
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return entries, nil
		}
		return entries, fmt.Errorf("read resume cache: %w", err)
	}
	if len(data) == 0 {
		return entries, nil
	}
	var list []Entry
	if err := json.Unmarshal(data, &list); err != nil {
		return entries, fmt.Errorf("parse resume cache: %w", err)
	}
	for _, entry := range list {
		if entry.ProjectID != "" {
			entries[entry.ProjectID] = entry
		}
	}
	return entries, nil
}

func (c *Cache) write(entries map[string]Entry) error {
	data, err := json.MarshalIndent(sorted(entries), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal resume cache: %w", err)
	}
	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func sorted(entries map[string]Entry) []Entry {
	list := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		list = append(list, entry)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].SavedAt.Equal(list[j].SavedAt) {
			return list[i].ProjectID < list[j].ProjectID
		}
		return list[i].SavedAt.After(list[j].SavedAt)
	})
	return list
}
