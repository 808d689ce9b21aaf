package commands

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldscope-io/fieldscope/internal/rtlog"
	"github.com/fieldscope-io/fieldscope/internal/telemetry"
)

const (
	watchWaitFor = 10 * time.Second
	watchTick    = 20 * time.Millisecond
)

// startWatch runs the watch command against path in a goroutine and returns
// the live output buffer, a cancel that stops it, and the exit channel.
func startWatch(t *testing.T, path string, extraArgs ...string) (*syncBuffer, context.CancelFunc, <-chan error) {
	t.Helper()

	out := &syncBuffer{}

	cmd := NewWatchCommand()
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(append([]string{path}, extraArgs...))

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() {
		done <- cmd.ExecuteContext(ctx)
	}()

	return out, cancel, done
}

func waitForOutput(t *testing.T, out *syncBuffer, want string) {
	t.Helper()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), want)
	}, watchWaitFor, watchTick, "output never contained %q; got:\n%s", want, out.String())
}

func stopWatch(t *testing.T, cancel context.CancelFunc, done <-chan error) error {
	t.Helper()

	cancel()

	select {
	case err := <-done:
		return err
	case <-time.After(watchWaitFor):
		t.Fatal("watch command did not exit after cancel")

		return nil
	}
}

func rewriteLogFile(t *testing.T, path string, log *telemetry.Log) {
	t.Helper()

	buf, err := rtlog.NewEncoder().EncodeLog(log)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, buf, 0o600))
}

func TestWatchCommand_ReloadsOnChange(t *testing.T) {
	t.Setenv("FIELDSCOPE_WATCH_DEBOUNCE", "20ms")
	t.Setenv("FIELDSCOPE_WATCH_POLL_INTERVAL", "50ms")

	path := writeLogFile(t, testLog(t))

	out, cancel, done := startWatch(t, path, "--no-table", "--force-poll")

	waitForOutput(t, out, "watching")
	waitForOutput(t, out, "reload #1")

	// A content change triggers a second decode.
	changed := testLog(t)
	voltage, ok := changed.Field("/battery/voltage")
	require.True(t, ok)
	require.NoError(t, voltage.Append(0.5, 11.9))
	rewriteLogFile(t, path, changed)

	waitForOutput(t, out, "reload #2")

	require.NoError(t, stopWatch(t, cancel, done))
	assert.Contains(t, out.String(), "stopped")
}

func TestWatchCommand_ListenServesDiagnostics(t *testing.T) {
	t.Setenv("FIELDSCOPE_WATCH_DEBOUNCE", "20ms")

	path := writeLogFile(t, testLog(t))

	out, cancel, done := startWatch(t, path, "--no-table", "--listen", "127.0.0.1:0")

	waitForOutput(t, out, "diagnostics on http://")
	waitForOutput(t, out, "reload #1")

	addr := diagnosticsAddr(t, out.String())
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get("http://" + addr + "/healthz")
	require.NoError(t, err)

	_, _ = io.Copy(io.Discard, resp.Body)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get("http://" + addr + "/metrics")
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	// The reload's decode ran through the pool, so its instruments are live
	// in the scrape registry.
	assert.Contains(t, string(body), "fieldscope_decode_total")

	require.NoError(t, stopWatch(t, cancel, done))
}

// diagnosticsAddr extracts the listen address from the startup banner.
func diagnosticsAddr(t *testing.T, output string) string {
	t.Helper()

	for _, line := range strings.Split(output, "\n") {
		rest, ok := strings.CutPrefix(line, "diagnostics on http://")
		if !ok {
			continue
		}

		return strings.TrimSuffix(rest, "/metrics")
	}

	t.Fatalf("no diagnostics line in output:\n%s", output)

	return ""
}
