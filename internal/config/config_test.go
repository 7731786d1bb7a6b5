package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, "centro", cfg.StoreID)
	assert.Equal(t, 8*time.Hour, cfg.AccessTokenTTL)
	assert.Equal(t, 2*time.Minute, cfg.StatementCacheTTL)
	assert.Equal(t, "15 1 * * *", cfg.OverdueSweepCron)
	assert.False(t, cfg.CreditDriftRepair)
	assert.Empty(t, cfg.AuthSecret, "no weak secret may be injected")
	assert.Empty(t, cfg.ManagerPIN, "no weak PIN may be injected")
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DEFAULT_STORE_ID", "norte")
	t.Setenv("ACCESS_TOKEN_TTL", "30m")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("CREDIT_DRIFT_REPAIR", "true")
	t.Setenv("MANAGER_PIN", "  739154 ")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "norte", cfg.StoreID)
	assert.Equal(t, 30*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.True(t, cfg.CreditDriftRepair)
	assert.Equal(t, "739154", cfg.ManagerPIN)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("REDIS_DB", "three")

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	strongSecret := "0123456789abcdef0123456789abcdef"

	cases := []struct {
		name   string
		secret string
		pin    string
		ok     bool
	}{
		{"strong", strongSecret, "739154", true},
		{"short secret", "short", "739154", false},
		{"short pin", strongSecret, "7391", false},
		{"ascending", strongSecret, "123456", false},
		{"descending", strongSecret, "987654", false},
		{"same digit", strongSecret, "444444", false},
		{"known weak", strongSecret, "112233", false},
		{"letters", strongSecret, "73a154", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Config{AuthSecret: tc.secret, ManagerPIN: tc.pin}.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
