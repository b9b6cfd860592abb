package poprocessor

import (
	"strings"
	"time"
)

// errorPageInfo records which check fired and when, for the PoResult
// message.
type errorPageInfo struct {
	marker string
	phase  string
	elapsed time.Duration
}

// probeErrorPage runs the immediate pass: poll every interval, up to
// timeout, checking title then selectors then page source, in that
// order, stopping at the first hit. A timeout of zero on both sides is
// a documented escape hatch: detection is skipped entirely.
func (p *Processor) probeErrorPage(timeout, interval time.Duration) (bool, errorPageInfo) {
	if timeout <= 0 {
		return false, errorPageInfo{}
	}

	deadline := time.Now().Add(timeout)
	start := time.Now()
	for {
		if hit, info := p.checkErrorPageOnce("immediate", start); hit {
			return true, info
		}
		if time.Now().After(deadline) {
			return false, errorPageInfo{}
		}
		time.Sleep(interval)
	}
}

// probeErrorPageOnce is the post-ready pass: a single check, run once
// after WAIT_DOM_READY, to catch late-rendered error pages.
func (p *Processor) probeErrorPageOnce() (bool, errorPageInfo) {
	if p.cfg.ErrorPageReadyTimeoutMs <= 0 {
		return false, errorPageInfo{}
	}
	return p.checkErrorPageOnce("post-ready", time.Now())
}

// checkErrorPageOnce runs the three checks in tie-break order: title
// marker, selector presence, then page-source marker.
func (p *Processor) checkErrorPageOnce(phase string, start time.Time) (bool, errorPageInfo) {
	title, err := p.session.Title()
	if err == nil && containsAnyFold(title, p.cfg.ErrorPageMarkers) {
		return true, errorPageInfo{marker: matchFold(title, p.cfg.ErrorPageMarkers), phase: phase, elapsed: time.Since(start)}
	}

	for _, selector := range p.cfg.ErrorPageSelectors {
		exists, err := p.session.ElementExists(selector)
		if err == nil && exists {
			return true, errorPageInfo{marker: selector, phase: phase, elapsed: time.Since(start)}
		}
	}

	source, err := p.session.PageSource()
	if err == nil && containsAnyFold(source, p.cfg.ErrorPageMarkers) {
		return true, errorPageInfo{marker: matchFold(source, p.cfg.ErrorPageMarkers), phase: phase, elapsed: time.Since(start)}
	}

	return false, errorPageInfo{}
}

func containsAnyFold(haystack string, markers []string) bool {
	lower := strings.ToLower(haystack)
	for _, m := range markers {
		if m == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

func matchFold(haystack string, markers []string) string {
	lower := strings.ToLower(haystack)
	for _, m := range markers {
		if m == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(m)) {
			return m
		}
	}
	return ""
}
