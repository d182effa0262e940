package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateDirAcceptsShippedMigrations(t *testing.T) {
	require.NoError(t, ValidateDir("migrations"))
}

func TestFulfillmentMigrationCarriesGuardIndexes(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_fulfillments.sql"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	content := string(data)

	for _, sub := range []string{
		"CONSTRAINT fulfillments_idempotency_key_key UNIQUE (idempotency_key)",
		"CREATE UNIQUE INDEX IF NOT EXISTS fulfillments_active_item_key",
		"WHERE status IN ('pending', 'processing')",
		"CHECK (gross_amount_cents = platform_fee_cents + net_amount_cents)",
		"DROP TABLE IF EXISTS fulfillments",
	} {
		require.Contains(t, content, sub)
	}
}

func TestContributionMigrationHasUniqueReference(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_contributions.sql"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	require.Contains(t, string(data), "CONSTRAINT contributions_external_reference_key UNIQUE (external_reference)")
	require.Contains(t, string(data), "CHECK (amount_cents > 0)")
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "add_table.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644))

	err := ValidateDir(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid migration filename")
}

func TestValidateDirRejectsUnbalancedStatements(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260101000000_x.sql"), []byte(body), 0o644))

	err := ValidateDir(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "StatementBegin")
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	path, err := CreateSQLMigration(dir, "Add Payout Index!", now)
	require.NoError(t, err)
	require.Equal(t, "20260304050607_add_payout_index.sql", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "-- +goose Up"))
	require.NoError(t, ValidateDir(dir))

	_, err = CreateSQLMigration(dir, "Add Payout Index!", now)
	require.Error(t, err)
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("20260301120000")
	require.NoError(t, err)
	require.Equal(t, int64(20260301120000), v)

	_, err = ParseVersion("2026")
	require.Error(t, err)
	_, err = ParseVersion("2026030112000x")
	require.Error(t, err)
}

func TestRequiresDB(t *testing.T) {
	require.False(t, RequiresDB("create"))
	require.False(t, RequiresDB("validate"))
	require.True(t, RequiresDB("up"))
	require.True(t, RequiresDB("status"))
}
