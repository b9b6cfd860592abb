// Package browser owns one chromedp-driven browser instance per worker:
// launch with the download/headless/profile preferences a run needs, the
// per-PO download-directory devtools rebind, navigation, and idempotent
// teardown.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/CzarX86/CoupaDownloads-sub000/internal/config"
)

// ErrDriverUnavailable is returned when the driver binary cannot be
// launched (missing, wrong arch, incompatible browser).
var ErrDriverUnavailable = errors.New("browser: driver unavailable")

// Session owns one browser driver instance and the devtools download-dir
// rebind. It is never shared across workers.
type Session struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *zap.Logger
	quitOnce    sync.Once
}

// Start launches the driver with: initial download directory, disabled
// download prompts, disabled extensions, headless mode per cfg.Headless,
// and an optional profile directory. No option is set that forces
// documents such as PDFs to download instead of rendering inline.
func Start(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("safebrowsing-disable-download-protection", true),
		chromedp.Flag("disable-prompt-on-repost", true),
	)
	if cfg.DriverPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.DriverPath))
	}
	if cfg.BrowserProfile != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.BrowserProfile))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogger(func(format string, args ...interface{}) {
		logger.Debug(fmt.Sprintf(format, args...))
	}))

	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("%w: %v", ErrDriverUnavailable, err)
	}

	s := &Session{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         browserCtx,
		cancel:      cancel,
		logger:      logger,
	}

	if err := s.SetDownloadDir(cfg.DownloadBaseDir); err != nil {
		s.Quit()
		return nil, fmt.Errorf("%w: initial download dir: %v", ErrDriverUnavailable, err)
	}

	return s, nil
}

// Context returns the session's chromedp context, the one every navigation
// and discovery call in internal/poprocessor is issued against.
func (s *Session) Context() context.Context {
	return s.ctx
}

// SetDownloadDir rebinds the current tab's download directory using the
// devtools command this system depends on beyond standard WebDriver
// semantics. Required before each PO's attachment clicks.
func (s *Session) SetDownloadDir(path string) error {
	return chromedp.Run(s.ctx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(path).
			WithEventsEnabled(true),
	)
}

// Navigate loads url, bounded by timeout.
func (s *Session) Navigate(url string, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	return chromedp.Run(navCtx, chromedp.Navigate(url))
}

// WaitDOMReady blocks until document.readyState == "complete" or timeout
// elapses.
func (s *Session) WaitDOMReady(timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	var state string
	for {
		if err := chromedp.Run(waitCtx, chromedp.Evaluate(`document.readyState`, &state)); err != nil {
			return err
		}
		if state == "complete" {
			return nil
		}
		select {
		case <-waitCtx.Done():
			return waitCtx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// EvaluateText runs a JS expression and returns its string result, for
// the small best-effort DOM queries internal/poprocessor issues (supplier
// name extraction, error-page marker checks).
func (s *Session) EvaluateText(script string) (string, error) {
	var text string
	err := chromedp.Run(s.ctx, chromedp.Evaluate(script, &text))
	return text, err
}

// Title returns the current document title.
func (s *Session) Title() (string, error) {
	var title string
	err := chromedp.Run(s.ctx, chromedp.Title(&title))
	return title, err
}

// PageSource returns the current document's outer HTML.
func (s *Session) PageSource() (string, error) {
	var source string
	err := chromedp.Run(s.ctx, chromedp.OuterHTML("html", &source))
	return source, err
}

// looksLikeXPath reports whether selector is an XPath expression rather
// than a CSS one — the errorPageSelectors and discovery predicates both
// accept a mixed CSS/XPath list, and a leading "/" (which covers "//") or
// "(" is how XPath expressions are distinguished from CSS ones in that list.
func looksLikeXPath(selector string) bool {
	return strings.HasPrefix(selector, "/") || strings.HasPrefix(selector, "(")
}

// ElementExists reports whether a selector matches at least one node on
// the current page. CSS selectors go through chromedp.ByQuery; selectors
// that look like XPath go through chromedp.BySearch, which evaluates them
// against the DevTools DOM.performSearch XPath engine instead. A
// missing-node error is treated as "not present", not a failure — any
// other error propagates.
func (s *Session) ElementExists(selector string) (bool, error) {
	var nodes []*cdp.Node
	var err error
	if looksLikeXPath(selector) {
		err = chromedp.Run(s.ctx, chromedp.Nodes(selector, &nodes, chromedp.BySearch, chromedp.AtLeast(0)))
	} else {
		err = chromedp.Run(s.ctx, chromedp.Nodes(selector, &nodes, chromedp.AtLeast(0)))
	}
	if err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

// attachmentAnchorsScript collects candidates two ways and unions them:
// a CSS scan of every <a> element, then an XPath scan of any element
// carrying an href or download attribute, which also catches the
// non-anchor, framework-rendered clickable elements a CSS "a"-only query
// misses. Each candidate is described identically regardless of which
// pass found it; discoverCandidates dedupes the union by normalized href.
const attachmentAnchorsScript = `(function(){
	function describe(el) {
		return {
			href: el.getAttribute('href') || '',
			download: el.getAttribute('download') || '',
			title: el.getAttribute('title') || '',
			ariaLabel: el.getAttribute('aria-label') || '',
			text: (el.textContent || '').trim(),
		};
	}
	var out = Array.from(document.querySelectorAll('a')).map(describe);
	var xpath = document.evaluate(
		"//*[@href] | //*[@download]", document, null,
		XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
	for (var i = 0; i < xpath.snapshotLength; i++) {
		out.push(describe(xpath.snapshotItem(i)));
	}
	return out;
})()`

// AttachmentAnchors returns every CSS- and XPath-discovered candidate
// element's href, download, title, aria-label, and visible text, for
// internal/poprocessor's discovery and filename-extraction policy. One JS
// round trip is cheaper and more resilient to DOM timing than a
// chromedp.Nodes call per predicate.
func (s *Session) AttachmentAnchors() ([]AnchorInfo, error) {
	var raw []map[string]string
	if err := chromedp.Run(s.ctx, chromedp.Evaluate(attachmentAnchorsScript, &raw)); err != nil {
		return nil, err
	}

	anchors := make([]AnchorInfo, 0, len(raw))
	for _, r := range raw {
		anchors = append(anchors, AnchorInfo{
			Href:      r["href"],
			Download:  r["download"],
			Title:     r["title"],
			AriaLabel: r["ariaLabel"],
			Text:      r["text"],
		})
	}
	return anchors, nil
}

// ClickAnchor clicks the anchor whose href matches exactly, scrolling it
// into view first. If the native click is intercepted, it falls back to
// a scripted dispatch — a two-tier click strategy; it never opens a new
// tab or attempts a direct HTTP fetch.
func (s *Session) ClickAnchor(href string) error {
	selector := fmt.Sprintf(`a[href=%q]`, href)
	err := chromedp.Run(s.ctx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
	if err == nil {
		return nil
	}

	s.logger.Debug("native click failed, falling back to scripted dispatch",
		zap.String("href", href), zap.Error(err))
	script := fmt.Sprintf(`(function(){
		var el = document.querySelector(%q);
		if (!el) { throw new Error("element not found for scripted click"); }
		el.dispatchEvent(new MouseEvent('click', {bubbles: true, cancelable: true}));
	})()`, selector)
	var result interface{}
	return chromedp.Run(s.ctx, chromedp.Evaluate(script, &result))
}

// AnchorInfo is one candidate attachment link's extracted attributes.
type AnchorInfo struct {
	Href      string
	Download  string
	Title     string
	AriaLabel string
	Text      string
}

// Quit closes the driver and reaps the child browser process. Safe to
// call more than once and from a panic-recovery path; only the first
// call has any effect, so a single shutdown handler can call it
// idempotently.
func (s *Session) Quit() {
	s.quitOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if s.allocCancel != nil {
			s.allocCancel()
		}
	})
}
