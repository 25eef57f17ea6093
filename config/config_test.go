package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_YAMLAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
database:
  host: db
  port: 5433
  user: rooms
  password: secret
  name: rooms
kafka:
  brokers: ["kafka:9092"]
auth:
  jwt_secret: from-yaml
booking:
  hold_ttl: 45m
`)
	t.Setenv("ROOMBOOKING_DATABASE_HOST", "db-override")
	t.Setenv("ROOMBOOKING_AUTH_JWTSECRET", "from-env")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "db-override", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, 45*time.Minute, cfg.Booking.HoldTTL)
	// defaults survive a partial file
	assert.Equal(t, "room.payment_requests", cfg.Messaging.PaymentRequestTopic)
	assert.Equal(t, 20.0, cfg.Pricing.DefaultTemperature)
	assert.Len(t, cfg.Pricing.Brackets, 4)
	assert.Equal(t, "host=db-override port=5433 user=rooms password=secret dbname=rooms sslmode=disable", cfg.Database.DSN())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read config")
}

func TestLoadConfig_RequiresJWTSecret(t *testing.T) {
	path := writeConfig(t, "kafka:\n  brokers: [\"kafka:9092\"]\n")

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "jwt_secret")
}

func TestValidateBrackets(t *testing.T) {
	two, five := 2.0, 5.0

	tests := []struct {
		name     string
		brackets []Bracket
		wantErr  bool
	}{
		{name: "default schedule", brackets: DefaultBrackets()},
		{name: "empty", brackets: nil, wantErr: true},
		{name: "no open bracket", brackets: []Bracket{{MaxDeviation: &two}}, wantErr: true},
		{name: "open bracket not last", brackets: []Bracket{{}, {MaxDeviation: &two}}, wantErr: true},
		{name: "descending", brackets: []Bracket{{MaxDeviation: &five}, {MaxDeviation: &two}, {}}, wantErr: true},
		{name: "negative surcharge", brackets: []Bracket{{SurchargePercent: -1}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBrackets(tt.brackets)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
