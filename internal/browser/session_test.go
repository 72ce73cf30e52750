// internal/browser/session_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/chromedp/kb"
	"github.com/stretchr/testify/assert"

	"github.com/demodrive-ai/demodrive/api/schemas"
)

func TestKeyFor(t *testing.T) {
	assert.Equal(t, kb.Escape, keyFor("Escape"))
	assert.Equal(t, kb.Escape, keyFor("Esc"))
	assert.Equal(t, kb.Enter, keyFor("Enter"))
	assert.Equal(t, kb.Tab, keyFor("Tab"))
	// Literal text passes through for plain typing.
	assert.Equal(t, "a", keyFor("a"))
}

func TestWaitDuration(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, waitDuration(schemas.BrowserAction{Value: "250"}))
	assert.Equal(t, time.Second, waitDuration(schemas.BrowserAction{}))
	assert.Equal(t, time.Second, waitDuration(schemas.BrowserAction{Value: "not-a-number"}))
	assert.Equal(t, time.Second, waitDuration(schemas.BrowserAction{Value: "-5"}))
}

func TestViewportCenter(t *testing.T) {
	assert.True(t, viewportCenter(schemas.BrowserAction{
		Metadata: map[string]interface{}{"viewport_center": true},
	}))
	// A concrete target always wins over the metadata hint.
	assert.False(t, viewportCenter(schemas.BrowserAction{
		Target:   "#close",
		Metadata: map[string]interface{}{"viewport_center": true},
	}))
	assert.False(t, viewportCenter(schemas.BrowserAction{}))
}

func TestCombineContext_CancelsWithEitherParent(t *testing.T) {
	tab, cancelTab := context.WithCancel(context.Background())
	defer cancelTab()
	op, cancelOp := context.WithCancel(context.Background())

	combined, cleanup := combineContext(tab, op)
	defer cleanup()

	select {
	case <-combined.Done():
		t.Fatal("combined context cancelled prematurely")
	default:
	}

	cancelOp()
	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context not cancelled after operation context")
	}
}

func TestSessionExecute_AfterClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newSession(ctx, cancel, testBrowserConfig(), testLogger())

	require := assert.New(t)
	require.NoError(s.Close(context.Background()))
	// Close is idempotent.
	require.NoError(s.Close(context.Background()))

	_, err := s.Execute(context.Background(), schemas.BrowserAction{Type: schemas.ActionClick, Target: "#x"})
	require.Error(err)
}
