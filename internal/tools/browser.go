package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"github.com/rahul/autopilot/internal/capability"
)

const maxPageContent = 50000

// BrowserTool drives a headless Chrome that stays open between invocations
// until the "close" action.
type BrowserTool struct {
	mu            sync.Mutex
	ScreenshotDir string
	allocCtx      context.Context
	browserCtx    context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
}

func NewBrowserTool() *BrowserTool {
	return &BrowserTool{ScreenshotDir: "screenshots"}
}

func (b *BrowserTool) Name() string {
	return "browser"
}

func (b *BrowserTool) Description() string {
	return "Control a headless browser. Actions: navigate, click, content, type, press, scroll, wait, back, forward, reload, screenshot, close."
}

func (b *BrowserTool) Schema() capability.Schema {
	return capability.Schema{
		{Name: "action", Description: "the browser action to perform", Required: true},
		{Name: "url", Description: "URL to open (navigate)", Default: ""},
		{Name: "selector", Description: "CSS selector of the target element", Default: ""},
		{Name: "text", Description: "text to type or key to press", Default: ""},
		{Name: "wait_seconds", Type: "int", Description: "seconds to wait when no selector is given", Default: 0},
	}
}

func (b *BrowserTool) initBrowser() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browserCtx != nil {
		select {
		case <-b.browserCtx.Done():
			b.cleanup()
		default:
			return nil
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	b.allocCtx, b.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	b.browserCtx, b.browserCancel = chromedp.NewContext(b.allocCtx)

	return chromedp.Run(b.browserCtx)
}

func (b *BrowserTool) cleanup() {
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	b.browserCtx = nil
	b.allocCtx = nil
}

// Close shuts the browser down.
func (b *BrowserTool) Close() {
	b.mu.Lock()
	b.cleanup()
	b.mu.Unlock()
}

func (b *BrowserTool) Invoke(ctx context.Context, params map[string]any) (capability.Result, error) {
	action := capability.StringParam(params, "action")
	url := capability.StringParam(params, "url")
	selector := capability.StringParam(params, "selector")
	input := capability.StringParam(params, "text")
	waitSeconds, err := intParam(params, "wait_seconds", 0)
	if err != nil {
		return capability.Result{}, err
	}

	if action == "close" {
		b.Close()
		return text("Successfully closed the browser."), nil
	}

	if err := b.initBrowser(); err != nil {
		return capability.Result{}, fmt.Errorf("failed to initialize browser: %w", err)
	}

	actionCtx, cancel := context.WithTimeout(b.browserCtx, 60*time.Second)
	defer cancel()
	// the browser context outlives ctx, so tie the action to both
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var result string

	switch action {
	case "navigate":
		if url == "" {
			return capability.Result{}, fmt.Errorf("url is required for navigate")
		}
		err = chromedp.Run(actionCtx, chromedp.Navigate(url))
		result = fmt.Sprintf("Successfully navigated to %s", url)

	case "content":
		var html string
		err = chromedp.Run(actionCtx,
			chromedp.ActionFunc(func(ctx context.Context) error {
				node, err := dom.GetDocument().Do(ctx)
				if err != nil {
					return err
				}
				html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
				return err
			}),
		)
		if len(html) > maxPageContent {
			html = html[:maxPageContent] + "\n... (truncated)"
		}
		result = html

	case "click":
		if selector == "" {
			return capability.Result{}, fmt.Errorf("selector is required for click")
		}
		err = chromedp.Run(actionCtx, chromedp.Click(selector, chromedp.ByQuery))
		result = fmt.Sprintf("Clicked %s", selector)

	case "type":
		if selector == "" || input == "" {
			return capability.Result{}, fmt.Errorf("selector and text are required for type")
		}
		err = chromedp.Run(actionCtx, chromedp.SendKeys(selector, input, chromedp.ByQuery))
		result = fmt.Sprintf("Typed text in %s", selector)

	case "press":
		if input == "" {
			return capability.Result{}, fmt.Errorf("text (key) is required for press")
		}
		err = chromedp.Run(actionCtx, chromedp.KeyEvent(input))
		result = fmt.Sprintf("Pressed key: %s", input)

	case "scroll":
		if selector != "" {
			err = chromedp.Run(actionCtx, chromedp.ScrollIntoView(selector, chromedp.ByQuery))
			result = fmt.Sprintf("Scrolled to %s", selector)
		} else {
			err = chromedp.Run(actionCtx, chromedp.Evaluate("window.scrollTo(0, document.body.scrollHeight)", nil))
			result = "Scrolled to bottom"
		}

	case "wait":
		switch {
		case selector != "":
			err = chromedp.Run(actionCtx, chromedp.WaitVisible(selector, chromedp.ByQuery))
			result = fmt.Sprintf("Finished waiting for %s", selector)
		case waitSeconds > 0:
			select {
			case <-time.After(time.Duration(waitSeconds) * time.Second):
				result = fmt.Sprintf("Waited for %d seconds", waitSeconds)
			case <-ctx.Done():
				return capability.Result{}, ctx.Err()
			}
		default:
			result = "Nothing to wait for"
		}

	case "back":
		err = chromedp.Run(actionCtx, chromedp.NavigateBack())
		result = "Navigated back"

	case "forward":
		err = chromedp.Run(actionCtx, chromedp.NavigateForward())
		result = "Navigated forward"

	case "reload":
		err = chromedp.Run(actionCtx, chromedp.Reload())
		result = "Page reloaded"

	case "screenshot":
		var buf []byte
		if err = chromedp.Run(actionCtx, chromedp.CaptureScreenshot(&buf)); err == nil {
			result, err = b.saveScreenshot(buf)
		}

	default:
		return capability.Result{}, fmt.Errorf("invalid browser action %q", action)
	}

	if err != nil {
		return capability.Result{}, fmt.Errorf("browser action %s failed: %w", action, err)
	}
	return text(result), nil
}

func (b *BrowserTool) saveScreenshot(buf []byte) (string, error) {
	if err := os.MkdirAll(b.ScreenshotDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(b.ScreenshotDir, fmt.Sprintf("screenshot_%d.png", time.Now().Unix()))
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return "", err
	}
	absPath, _ := filepath.Abs(path)
	return fmt.Sprintf("Screenshot saved to %s", absPath), nil
}
