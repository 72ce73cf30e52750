// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/demodrive-ai/demodrive/api/schemas"
	"github.com/demodrive-ai/demodrive/internal/config"
)

const defaultActionTimeout = 30 * time.Second

// Session is one browser tab driven over CDP. It implements
// schemas.ActionExecutor.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	cfg    config.BrowserConfig
	logger *zap.Logger

	onClose func()

	mu       sync.Mutex
	isClosed bool
}

var _ schemas.ActionExecutor = (*Session)(nil)

func newSession(tabCtx context.Context, cancel context.CancelFunc, cfg config.BrowserConfig, logger *zap.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:     id,
		ctx:    tabCtx,
		cancel: cancel,
		cfg:    cfg,
		logger: logger.Named("session").With(zap.String("session_id", id)),
	}
}

// start connects the tab, pins the viewport, and performs the initial
// navigation.
func (s *Session) start(ctx context.Context, startURL string) error {
	// First Run call launches the browser process and attaches the target.
	// The metrics override keeps captures at the configured viewport even
	// when the window manager disagrees with the requested window size.
	attach := chromedp.Tasks{
		emulation.SetDeviceMetricsOverride(
			int64(s.cfg.ViewportWidth), int64(s.cfg.ViewportHeight), 1.0, false),
	}
	if err := s.runActions(ctx, attach); err != nil {
		return fmt.Errorf("attaching browser target: %w", err)
	}
	if startURL == "" {
		return nil
	}
	return s.navigate(ctx, startURL)
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Close tears down the tab. Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")
	if s.cancel != nil {
		s.cancel()
	}
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

// Screenshot captures the current viewport as PNG bytes.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	capture := chromedp.ActionFunc(func(ctx context.Context) error {
		data, err := page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithOptimizeForSpeed(true).
			Do(ctx)
		if err != nil {
			return err
		}
		buf = data
		return nil
	})
	if err := s.runActions(ctx, capture); err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}
	return buf, nil
}

// Execute dispatches one action against the tab. An error return means the
// executor itself is unusable; ordinary action failures (missing selector,
// timeout on the element wait) come back in the result with Success=false.
func (s *Session) Execute(ctx context.Context, action schemas.BrowserAction) (*schemas.ActionResult, error) {
	if err := s.closedErr(); err != nil {
		return nil, err
	}

	timeout := action.Timeout
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}
	actionCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result := &schemas.ActionResult{ActionID: action.ID}

	err := s.dispatch(actionCtx, action, result)
	result.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		// The surrounding context dying is an executor fault, not an action
		// failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result.Success = false
		result.Error = err.Error()
		s.logger.Debug("Action failed.",
			zap.String("action_type", string(action.Type)),
			zap.String("target", action.Target),
			zap.Error(err))
	} else {
		result.Success = true
	}

	// Page location is best effort; a crashed tab will have failed above.
	if locErr := s.runActions(actionCtx, chromedp.Location(&result.PageURL), chromedp.Title(&result.PageTitle)); locErr != nil {
		s.logger.Debug("Could not read page location after action.", zap.Error(locErr))
	}

	return result, nil
}

func (s *Session) dispatch(ctx context.Context, action schemas.BrowserAction, result *schemas.ActionResult) error {
	switch action.Type {
	case schemas.ActionNavigate:
		return s.navigate(ctx, action.Target)

	case schemas.ActionClick:
		if viewportCenter(action) {
			return s.runActions(ctx, chromedp.MouseClickXY(
				float64(s.cfg.ViewportWidth)/2, float64(s.cfg.ViewportHeight)/2))
		}
		return s.runActions(ctx, chromedp.Tasks{
			chromedp.ScrollIntoView(action.Target, chromedp.ByQuery),
			chromedp.WaitVisible(action.Target, chromedp.ByQuery),
			chromedp.Click(action.Target, chromedp.ByQuery),
		})

	case schemas.ActionInput:
		return s.runActions(ctx, chromedp.Tasks{
			chromedp.ScrollIntoView(action.Target, chromedp.ByQuery),
			chromedp.WaitVisible(action.Target, chromedp.ByQuery),
			chromedp.Clear(action.Target, chromedp.ByQuery),
			chromedp.SendKeys(action.Target, action.Value, chromedp.ByQuery),
		})

	case schemas.ActionScroll:
		if action.Target != "" {
			return s.runActions(ctx, chromedp.ScrollIntoView(action.Target, chromedp.ByQuery))
		}
		return s.runActions(ctx,
			chromedp.Evaluate(`window.scrollBy({top: window.innerHeight * 0.8, behavior: 'smooth'});`, nil),
			chromedp.Sleep(500*time.Millisecond))

	case schemas.ActionWait:
		return s.runActions(ctx, chromedp.Sleep(waitDuration(action)))

	case schemas.ActionScreenshot:
		shot, err := s.Screenshot(ctx)
		if err != nil {
			return err
		}
		result.Result = map[string]interface{}{"screenshot_bytes": len(shot)}
		return nil

	case schemas.ActionHover:
		return s.runActions(ctx, chromedp.Tasks{
			chromedp.ScrollIntoView(action.Target, chromedp.ByQuery),
			chromedp.WaitVisible(action.Target, chromedp.ByQuery),
			hoverAction(action.Target),
		})

	case schemas.ActionPressKey:
		return s.runActions(ctx, chromedp.KeyEvent(keyFor(action.Value)))

	case schemas.ActionReload:
		return s.runActions(ctx, chromedp.Tasks{
			chromedp.Reload(),
			chromedp.WaitReady("body", chromedp.ByQuery),
		})

	default:
		return fmt.Errorf("unsupported action type %q", action.Type)
	}
}

// navigate loads the URL, waits for the DOM to be ready, then idles for the
// configured post-load period so late-loading UI settles before screenshots.
func (s *Session) navigate(ctx context.Context, url string) error {
	navTimeout := s.cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 90 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, navTimeout)
	defer cancel()

	if err := s.runActions(navCtx, chromedp.Navigate(url)); err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("navigation to %s timed out after %s", url, navTimeout)
		}
		return fmt.Errorf("navigating to %s: %w", url, err)
	}

	if err := s.runActions(ctx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		s.logger.Debug("WaitReady failed after navigation.", zap.Error(err))
	}
	if s.cfg.PostLoadWait > 0 {
		if err := s.runActions(ctx, chromedp.Sleep(s.cfg.PostLoadWait)); err != nil {
			return err
		}
	}
	return nil
}

// runActions executes chromedp actions bound to both the tab lifetime and the
// caller's context.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (s *Session) closedErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed {
		return fmt.Errorf("browser session %s is closed", s.id)
	}
	return nil
}

// hoverAction dispatches synthetic pointer events to the element. CDP has no
// first-class hover, so the DOM events are fired directly.
func hoverAction(selector string) chromedp.Action {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) { return false; }
		for (const type of ['mouseover', 'mouseenter', 'mousemove']) {
			el.dispatchEvent(new MouseEvent(type, {bubbles: true, cancelable: true, view: window}));
		}
		return true;
	})()`, selector)
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var ok bool
		if err := chromedp.Evaluate(script, &ok).Do(ctx); err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("hover target %q not found", selector)
		}
		return nil
	})
}

// keyFor maps symbolic key names to the CDP key strings chromedp expects.
// Unrecognized values are sent literally.
func keyFor(name string) string {
	switch name {
	case "Escape", "Esc":
		return kb.Escape
	case "Enter", "Return":
		return kb.Enter
	case "Tab":
		return kb.Tab
	case "Backspace":
		return kb.Backspace
	case "ArrowDown":
		return kb.ArrowDown
	case "ArrowUp":
		return kb.ArrowUp
	case "ArrowLeft":
		return kb.ArrowLeft
	case "ArrowRight":
		return kb.ArrowRight
	case "PageDown":
		return kb.PageDown
	case "PageUp":
		return kb.PageUp
	default:
		return name
	}
}

// waitDuration reads the wait length from the action value (milliseconds),
// defaulting to one second.
func waitDuration(action schemas.BrowserAction) time.Duration {
	if action.Value != "" {
		if ms, err := strconv.Atoi(action.Value); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return time.Second
}

func viewportCenter(action schemas.BrowserAction) bool {
	if action.Target != "" {
		return false
	}
	v, ok := action.Metadata["viewport_center"].(bool)
	return ok && v
}

// combineContext derives a context that is cancelled when either parent is.
// chromedp requires the tab context as the base so the target association
// survives.
func combineContext(tabCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(tabCtx)
	stop := context.AfterFunc(opCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
