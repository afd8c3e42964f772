package main

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/payledger/internal/testutil"
)

func Test_run(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("stop with signal", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond) // Half Second
		t.Cleanup(cancel)

		err := run(ctx, os.Getenv, os.Getwd, []string{
			"--log-level", "debug",
			"--database", pg.DSN,
		})

		require.NoError(t, err, "on correct stop should not return error")
	})

	t.Run("stop with startup error", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond) // Half Second
		t.Cleanup(cancel)

		// Try to run without database. Must fail
		err := run(ctx, os.Getenv, os.Getwd, []string{
			"--log-level", "debug",
		})

		require.Error(t, err, "on incorrect stop should return error")
	})
}
