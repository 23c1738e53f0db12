package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingMigrations(t *testing.T) {
	all, err := PendingMigrations(0, ^uint(0))
	require.NoError(t, err)
	assert.Equal(t, []MigrationStep{
		{Version: 1, Name: "work_items"},
		{Version: 2, Name: "assignment_records"},
	}, all)

	fromOne, err := PendingMigrations(1, 2)
	require.NoError(t, err)
	assert.Equal(t, []MigrationStep{{Version: 2, Name: "assignment_records"}}, fromOne)

	none, err := PendingMigrations(2, 2)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestParseMigrationName(t *testing.T) {
	step, err := parseMigrationName("000002_assignment_records.up.sql")
	require.NoError(t, err)
	assert.Equal(t, MigrationStep{Version: 2, Name: "assignment_records"}, step)

	_, err = parseMigrationName("nounderscore.up.sql")
	assert.Error(t, err)
	_, err = parseMigrationName("v1_x.up.sql")
	assert.Error(t, err)
}
