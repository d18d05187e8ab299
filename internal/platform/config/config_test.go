package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 8086, cfg.Server.Port)
	assert.Equal(t, 9086, cfg.GRPC.Port)
	assert.Equal(t, 20*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, []string{"daep", "daep_mandatory", "daep_discretionary"}, cfg.Placement.DAEPConsequences)
	assert.Equal(t, "principal", cfg.Placement.FallbackRole)
	assert.Empty(t, cfg.NATS.URL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("HTTP_PORT", "8080")
	t.Setenv("INCIDENT_APPROVER_ROLES", " Principal , Superintendent")
	t.Setenv("DAEP_CONSEQUENCE_TYPES", "DAEP")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"principal", "superintendent"}, cfg.Placement.ApproverRoles)
	assert.Equal(t, []string{"daep"}, cfg.Placement.DAEPConsequences)
}

func TestLoad_RejectsBadDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mysql")
	_, err := Load()
	assert.ErrorContains(t, err, "STORE_DRIVER")
}

func TestLoad_RejectsPortClash(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("GRPC_PORT", "9000")
	_, err := Load()
	assert.Error(t, err)
}
