// internal/browser/manager.go

// Package browser provides the chromedp-backed action executor. A Manager
// owns one Chrome process via an exec allocator; each walkthrough session
// gets its own isolated tab.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/demodrive-ai/demodrive/api/schemas"
	"github.com/demodrive-ai/demodrive/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// Manager handles the browser process lifecycle and session creation.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
	closed   bool
}

var _ schemas.ExecutorProvider = (*Manager)(nil)

// NewManager creates the exec allocator for the browser process. The process
// itself launches lazily with the first session.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		return nil, errors.New("browser: logger is required")
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, execOptions(cfg)...)

	m := &Manager{
		cfg:         cfg,
		logger:      logger.Named("browser_manager"),
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		sessions:    make(map[string]*Session),
	}
	m.logger.Info("Browser manager created (launch deferred to first session).")
	return m, nil
}

// execOptions translates the browser config into chromedp allocator options.
func execOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		// Required on hardened systems and inside containers.
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.DisableGPU,
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	return opts
}

// Acquire opens a new tab, navigates it to the start URL, and returns the
// executor for it. The tab is torn down when the executor is closed.
func (m *Manager) Acquire(ctx context.Context, startURL string) (schemas.ActionExecutor, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("browser manager is shut down")
	}
	m.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(m.allocCtx)

	sess := newSession(tabCtx, tabCancel, m.cfg, m.logger)

	m.wg.Add(1)
	sess.onClose = func() {
		m.mu.Lock()
		delete(m.sessions, sess.ID())
		m.mu.Unlock()
		m.wg.Done()
	}

	if err := sess.start(ctx, startURL); err != nil {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = sess.Close(cleanupCtx)
		return nil, fmt.Errorf("starting browser session: %w", err)
	}

	m.mu.Lock()
	m.sessions[sess.ID()] = sess
	m.mu.Unlock()

	m.logger.Info("Browser session acquired.",
		zap.String("session_id", sess.ID()),
		zap.String("start_url", startURL))
	return sess, nil
}

// Shutdown closes every open session and tears down the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	m.logger.Info("Shutting down browser manager.", zap.Int("open_sessions", len(open)))

	for _, s := range open {
		go func(s *Session) {
			if err := s.Close(ctx); err != nil {
				m.logger.Warn("Session close failed during shutdown.",
					zap.String("session_id", s.ID()), zap.Error(err))
			}
		}(s)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All browser sessions closed.")
	case <-time.After(shutdownGracePeriod):
		m.logger.Warn("Timed out waiting for sessions; forcing allocator teardown.")
	case <-ctx.Done():
		m.logger.Warn("Shutdown context expired; forcing allocator teardown.", zap.Error(ctx.Err()))
	}

	m.allocCancel()
	return nil
}
