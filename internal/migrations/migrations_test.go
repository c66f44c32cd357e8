package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetInitialSchema(t *testing.T) {
	schema, err := GetInitialSchema()
	require.NoError(t, err)

	for _, table := range []string{"chat_messages", "field_reports", "realtime_status"} {
		assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table)
	}
	assert.Contains(t, schema, "BETWEEN 1 AND 26")
}

func TestAll(t *testing.T) {
	scripts, err := All()
	require.NoError(t, err)
	require.NotEmpty(t, scripts)

	initial, err := GetInitialSchema()
	require.NoError(t, err)
	assert.Equal(t, initial, scripts[0])
}

func TestSchemaIsIdempotent(t *testing.T) {
	schema, err := GetInitialSchema()
	require.NoError(t, err)

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		assert.Contains(t, stmt, "IF NOT EXISTS", "statement must be safe to re-run: %s", stmt)
	}
}
