package clickhouse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startClickhouse runs a ClickHouse container with the claim schema applied
// and returns a connection closed at the end of the test.
func startClickhouse(t *testing.T) *Conn {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"CLICKHOUSE_DB":       "claims",
				"CLICKHOUSE_USER":     "default",
				"CLICKHOUSE_PASSWORD": "",
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("Application: Ready for connections").WithStartupTimeout(60*time.Second),
				wait.ForListeningPort("9000/tcp"),
			),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.PortEndpoint(ctx, "9000/tcp", "clickhouse")
	require.NoError(t, err)

	conn, err := NewConn(ctx, endpoint+"/claims")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	applySchema(t, conn)
	return conn
}

// applySchema executes the ClickHouse migration files from disk. The
// migrations package imports this one, so it cannot be used here.
func applySchema(t *testing.T, conn *Conn) {
	t.Helper()

	files, err := filepath.Glob(filepath.Join("..", "migrations", "clickhouse", "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files, "no clickhouse migrations found")

	for _, file := range files {
		content, err := os.ReadFile(file)
		require.NoError(t, err)

		for i, stmt := range strings.Split(stripComments(string(content)), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			require.NoError(t, conn.Exec(context.Background(), stmt),
				fmt.Sprintf("%s statement %d", filepath.Base(file), i))
		}
	}
}

func stripComments(sql string) string {
	var b strings.Builder
	for _, line := range strings.Split(sql, "\n") {
		if !strings.HasPrefix(strings.TrimSpace(line), "--") {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
