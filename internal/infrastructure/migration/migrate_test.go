package migration

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiles_PairedUpAndDown(t *testing.T) {
	files, err := Files()
	require.NoError(t, err)
	require.NotEmpty(t, files)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, f := range files {
		switch {
		case strings.HasSuffix(f, ".up.sql"):
			ups[strings.TrimSuffix(f, ".up.sql")] = true
		case strings.HasSuffix(f, ".down.sql"):
			downs[strings.TrimSuffix(f, ".down.sql")] = true
		default:
			t.Errorf("unexpected file in migrations: %s", f)
		}
	}
	assert.Equal(t, ups, downs)
	assert.True(t, ups["000001_create_claims"])
	assert.True(t, ups["000002_create_audit_records"])
}

func TestSchema_AuditTrailIsAppendOnly(t *testing.T) {
	body, err := schemaFS.ReadFile("sql/000002_create_audit_records.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(body), "BEFORE UPDATE OR DELETE ON audit_records")
}
