package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/fieldscope-io/fieldscope/internal/rtlog"
	"github.com/fieldscope-io/fieldscope/internal/telemetry"
)

// testLog builds a small log with one field of each plottable kind plus a
// string field and metadata.
func testLog(t *testing.T) *telemetry.Log {
	t.Helper()

	log := telemetry.NewLog()
	log.Metadata["robot"] = "fs-0042"

	voltage, err := log.DefineField("/battery/voltage", telemetry.KindNumber)
	require.NoError(t, err)
	require.NoError(t, voltage.Append(0.0, 12.6))
	require.NoError(t, voltage.Append(0.02, 12.4))

	enabled, err := log.DefineField("/robot/enabled", telemetry.KindBoolean)
	require.NoError(t, err)
	require.NoError(t, enabled.Append(0.0, true))

	mode, err := log.DefineField("/robot/mode", telemetry.KindString)
	require.NoError(t, err)
	require.NoError(t, mode.Append(0.01, "teleop"))

	return log
}

// writeLogFile encodes log into a fresh temp file and returns its path.
func writeLogFile(t *testing.T, log *telemetry.Log, opts ...rtlog.EncoderOption) string {
	t.Helper()

	buf, err := rtlog.NewEncoder(opts...).EncodeLog(log)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "test.rtlog")
	require.NoError(t, os.WriteFile(path, buf, 0o600))

	return path
}

// runCommand executes cmd with args and returns the combined output.
func runCommand(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()

	return out.String(), err
}

// syncBuffer is a goroutine-safe output buffer for long-running commands
// whose output is polled while they run.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}
