package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, 5, cfg.Enrollment.MaxAttempts)
	assert.Equal(t, 20*time.Millisecond, cfg.Enrollment.InitialBackoff)
	assert.Equal(t, 10*time.Second, cfg.Enrollment.TxTimeout)
	assert.Equal(t, LockDriverNone, cfg.Enrollment.LockDriver)
	assert.Zero(t, cfg.Reconcile.Interval)
	assert.Equal(t, time.Hour, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, 5, cfg.Database.ConnectAttempts)
}

func TestFromViperOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("ENROLLMENT_TX_MAX_ATTEMPTS", 0)
	v.Set("SESSION_LOCK_DRIVER", " Redis ")
	v.Set("RECONCILE_INTERVAL", "15m")
	v.Set("ENROLLMENT_TX_TIMEOUT", "not-a-duration")
	v.Set("ALLOWED_ORIGINS", "http://a.test, ,http://b.test")

	cfg := fromViper(v)
	assert.Equal(t, 5, cfg.Enrollment.MaxAttempts)
	assert.Equal(t, LockDriverRedis, cfg.Enrollment.LockDriver)
	assert.Equal(t, 15*time.Minute, cfg.Reconcile.Interval)
	assert.Equal(t, 10*time.Second, cfg.Enrollment.TxTimeout)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.AllowedOrigins)
}
