package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"reelforge/internal/config"
	"reelforge/internal/services/llm"
	"reelforge/internal/store"
)

const (
	llmCheckTimeout = 30 * time.Second
	// minFreeBytes is the least free space a writable directory may have.
	minFreeBytes = 64 << 20
)

// CheckDirectoryAccess verifies path is a directory the current user can
// read, write, and traverse, with at least 64 MiB free.
func CheckDirectoryAccess(name, path string) Result {
	fail := func(format string, args ...any) Result {
		return Result{Name: name, Detail: path + ": " + fmt.Sprintf(format, args...)}
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fail("does not exist")
	case err != nil:
		return fail("stat failed: %v", err)
	case !info.IsDir():
		return fail("not a directory")
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return fail("not writable: %v", err)
	}

	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return Result{Name: name, Passed: true, Detail: path + ": writable"}
	}
	free := fs.Bavail * uint64(fs.Bsize)
	if free < minFreeBytes {
		return fail("only %s free", humanBytes(free))
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s: writable, %s free", path, humanBytes(free))}
}

// CheckDatabase opens the version database, when it exists, and pings it. A
// missing database passes since the daemon creates it on first start.
func CheckDatabase(ctx context.Context, name, path string) Result {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Result{Name: name, Passed: true, Detail: path + ": created on first daemon start"}
	}
	st, err := store.OpenPath(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s: %v", path, err)}
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s: ping failed: %v", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: path + ": ok"}
}

// CheckLLM sends one health prompt to the configured model without retries.
func CheckLLM(ctx context.Context, name string, cfg config.LLMConfig) Result {
	if cfg.APIKey == "" {
		return Result{Name: name, Detail: "API key missing"}
	}

	ctx, cancel := context.WithTimeout(ctx, llmCheckTimeout)
	defer cancel()

	client := llm.NewClient(llm.Config(cfg), llm.WithRetryMaxAttempts(1))
	if err := client.HealthCheck(ctx); err != nil {
		return Result{Name: name, Detail: describeLLMFailure(err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("API reachable (%s)", client.Model())}
}

func describeLLMFailure(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Sprintf("no answer within %s", llmCheckTimeout)
	}
	return err.Error()
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
