package config

import (
	"testing"
	"time"

	"github.com/netunna/splitter/testing/assert"
	"github.com/netunna/splitter/testing/require"
)

func TestAgentFromEnv_Defaults(t *testing.T) {
	a := AgentFromEnv()
	assert.Equal(t, ModeLease, a.DownloadMode)
	assert.Equal(t, DefaultLeaseTTL, a.LeaseTTL)
	assert.Equal(t, DefaultPullLimit, a.PullLimit)
	assert.Equal(t, true, a.VerifySHA256)
	assert.Equal(t, DefaultReceivedDir, a.ReceivedDir)
}

func TestAgentFromEnv_Overrides(t *testing.T) {
	t.Setenv("DOWNLOAD_MODE", "DIRECT")
	t.Setenv("LEASE_TTL_SECONDS", "60")
	t.Setenv("PULL_LIMIT", "10")
	t.Setenv("VERIFY_SHA256", "false")
	t.Setenv("SPLITTER_BASE_URL", "https://splitter.example.net")
	t.Setenv("SPLITTER_API_KEY", "secret")

	a := AgentFromEnv()
	assert.Equal(t, ModeDirect, a.DownloadMode)
	assert.Equal(t, 60*time.Second, a.LeaseTTL)
	assert.Equal(t, 10, a.PullLimit)
	assert.Equal(t, false, a.VerifySHA256)
	assert.Equal(t, "https://splitter.example.net", a.BaseURL)
	assert.Equal(t, "secret", a.APIKey)
}

func TestAgentFromEnv_BadInt(t *testing.T) {
	t.Setenv("PULL_LIMIT", "lots")
	a := AgentFromEnv()
	assert.Equal(t, DefaultPullLimit, a.PullLimit)
}

func TestServerSweepInterval(t *testing.T) {
	s := &Server{DefaultTTL: 60 * time.Second}
	assert.Equal(t, 15*time.Second, s.SweepInterval())

	s = &Server{DefaultTTL: 2 * time.Second}
	assert.Equal(t, time.Second, s.SweepInterval(), "floored at one second")

	s = &Server{}
	require.Equal(t, DefaultLeaseTTL/4, s.SweepInterval())
}
