// internal/browser/manager_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/demodrive-ai/demodrive/internal/config"
)

func testBrowserConfig() config.BrowserConfig {
	return config.BrowserConfig{
		Headless:       true,
		ViewportWidth:  1280,
		ViewportHeight: 720,
		PostLoadWait:   100 * time.Millisecond,
	}
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func TestNewManager_RequiresLogger(t *testing.T) {
	_, err := NewManager(context.Background(), testBrowserConfig(), nil)
	assert.Error(t, err)
}

func TestExecOptions(t *testing.T) {
	cfg := testBrowserConfig()
	cfg.IgnoreTLSErrors = true
	cfg.UserAgent = "demodrive-agent/1.0"

	opts := execOptions(cfg)
	// Defaults plus no-sandbox, shm, gpu, window size, headless, tls, UA.
	assert.Greater(t, len(opts), len(execOptions(config.BrowserConfig{
		ViewportWidth: 1280, ViewportHeight: 720,
	})))
}

func TestManagerAcquire_AfterShutdown(t *testing.T) {
	m, err := NewManager(context.Background(), testBrowserConfig(), testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	_, err = m.Acquire(ctx, "https://example.com")
	assert.Error(t, err)

	// Shutdown is idempotent.
	assert.NoError(t, m.Shutdown(ctx))
}
