package migrations

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmbeddedOrder(t *testing.T) {
	files, err := load(PostgresFS, "postgres")
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "001_claim_events.sql", files[0].name)
	assert.Equal(t, "003_submissions.sql", files[2].name)

	ch, err := load(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	require.NotEmpty(t, ch)
	assert.Contains(t, ch[0].sql, "claim_events")
}

func TestLoad_SkipsEmptyAndNonSQL(t *testing.T) {
	fsys := fstest.MapFS{
		"m/002_b.sql":  {Data: []byte("SELECT 2;")},
		"m/001_a.sql":  {Data: []byte("SELECT 1;")},
		"m/003_c.sql":  {Data: []byte("  \n")},
		"m/README.txt": {Data: []byte("notes")},
	}
	files, err := load(fsys, "m")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "001_a.sql", files[0].name)
	assert.Equal(t, "002_b.sql", files[1].name)
}

func TestSplitStatements(t *testing.T) {
	sql := `
-- header comment
CREATE TABLE a (x UInt8) ENGINE = Memory;

CREATE TABLE b (y UInt8) ENGINE = Memory;
`
	stmts := splitStatements(sql)
	require.Len(t, stmts, 2)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE a"))
	assert.True(t, strings.HasPrefix(stmts[1], "CREATE TABLE b"))
}

func TestSplitStatements_EmbeddedClickhouse(t *testing.T) {
	files, err := load(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	for _, f := range files {
		assert.NoError(t, validateNoSemicolonInStrings(f.sql), f.name)
		assert.NotEmpty(t, splitStatements(f.sql), f.name)
	}
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	assert.NoError(t, validateNoSemicolonInStrings(`SELECT 'a''b'; SELECT 1;`))
	assert.Error(t, validateNoSemicolonInStrings(`SELECT 'a;b';`))
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default:@localhost:9000/claims")
	require.NoError(t, err)
	assert.Equal(t, "claims", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)

	_, err = databaseFromDSN("clickhouse://localhost:9000/default")
	assert.Error(t, err)

	_, err = databaseFromDSN("clickhouse://localhost:9000/claims;drop")
	assert.Error(t, err)
}
