package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromEnv_FileAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"OTX_DATA_DIR=/tmp/alice\n"+
			"OTX_SERVER_ID=notary-9\n"+
			"OTX_REQUEST_TIMEOUT_MS=2500\n"+
			"OTX_P2P_BOOTSTRAP= /ip4/127.0.0.1/tcp/4001/p2p/QmA , ,/ip4/127.0.0.1/tcp/4002/p2p/QmB\n"+
			"NOTARY_ALLOWED_ORIGINS=http://localhost:3000,https://wallet.example\n"), 0o600))

	// the process environment wins over the file
	t.Setenv("OTX_SERVER_ID", "notary-2")
	t.Setenv("NOTARY_PLAN_INTERVAL_MS", "not-a-number")
	for _, k := range []string{"OTX_DATA_DIR", "OTX_REQUEST_TIMEOUT_MS", "OTX_P2P_BOOTSTRAP", "NOTARY_ALLOWED_ORIGINS"} {
		t.Cleanup(func() { os.Unsetenv(k) })
	}

	cfg := LoadFromEnv(path)
	assert.Equal(t, "/tmp/alice", cfg.Wallet.DataDir)
	assert.Equal(t, "notary-2", cfg.Wallet.ServerID)
	assert.Equal(t, 2500*time.Millisecond, cfg.Wallet.RequestTimeout)
	assert.Equal(t, []string{"/ip4/127.0.0.1/tcp/4001/p2p/QmA", "/ip4/127.0.0.1/tcp/4002/p2p/QmB"}, cfg.P2P.Bootstrap)
	assert.Equal(t, []string{"http://localhost:3000", "https://wallet.example"}, cfg.Notary.AllowedOrigins)
	assert.Equal(t, time.Minute, cfg.Notary.PlanInterval)
}
