// Package poprocessor runs the per-PO protocol: navigate, fast-fail
// error-page detection, attachment discovery, click-and-settle, and
// status derivation. It is the one package that drives both
// internal/browser and internal/folder together.
package poprocessor

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/CzarX86/CoupaDownloads-sub000/internal/browser"
	"github.com/CzarX86/CoupaDownloads-sub000/internal/config"
	"github.com/CzarX86/CoupaDownloads-sub000/internal/folder"
	"github.com/CzarX86/CoupaDownloads-sub000/internal/model"
	"github.com/CzarX86/CoupaDownloads-sub000/pkg/utils"
)

// partialSuffixes are the download-in-progress markers a settled file
// must never end in.
var partialSuffixes = []string{".crdownload", ".tmp", ".partial"}

// attachmentKeywords are the href substrings that mark a link as a
// likely attachment.
var attachmentKeywords = []string{"attachment_file", "attachment", "download"}

// Processor executes the state machine for one worker's browser session.
type Processor struct {
	session *browser.Session
	folders *folder.Manager
	cfg     *config.Config
	logger  *zap.Logger
}

// New builds a Processor bound to one worker's BrowserSession and
// FolderManager.
func New(session *browser.Session, folders *folder.Manager, cfg *config.Config, logger *zap.Logger) *Processor {
	return &Processor{session: session, folders: folders, cfg: cfg, logger: logger}
}

// Process runs the full state machine for one PoWorkItem and always
// returns a PoResult — per-PO errors never escape as Go errors; only
// driver death is meant to propagate past this call, and that happens
// through the caller observing the worker process itself die.
func (p *Processor) Process(ctx context.Context, item model.PoWorkItem) (result model.PoResult) {
	result = model.PoResult{DisplayID: item.DisplayID, SupplierName: model.UnknownSupplier}

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.StatusCode = model.StatusFailed
			result.StatusReason = model.ReasonException
			result.Message = fmt.Sprintf("panic: %v", r)
			p.logger.Error("po processor panic",
				utils.DisplayIDField(item.DisplayID), zap.Any("recover", r))
		}
	}()

	if ctx.Err() != nil {
		result.StatusCode = model.StatusFailed
		result.StatusReason = model.ReasonException
		result.Message = "cancelled"
		return result
	}

	url := fmt.Sprintf("%s/order_headers/%s", strings.TrimRight(p.cfg.CoupaBaseURL, "/"), item.NumericID)
	result.CoupaURL = url

	// NAVIGATING
	if err := p.session.Navigate(url, p.cfg.PageLoadTimeout()); err != nil {
		return p.navigationFailure(result, err)
	}

	// PROBE_ERROR (immediate pass)
	if hit, info := p.probeErrorPage(p.cfg.ErrorPageCheckTimeout(), p.cfg.ErrorPagePollInterval()); hit {
		return p.errorPageResult(result, info)
	}

	// WAIT_DOM_READY — bounded best-effort; a slow-to-settle page still
	// gets a second error-page check against whatever has rendered so
	// far, so a timeout here is not itself fatal.
	if err := p.session.WaitDOMReady(p.cfg.ErrorPageReadyTimeout()); err != nil {
		p.logger.Debug("dom-ready wait did not complete in time, probing anyway",
			utils.DisplayIDField(item.DisplayID), zap.Error(err))
	}

	// PROBE_ERROR2 — single post-ready check, catches late-rendered errors.
	if hit, info := p.probeErrorPageOnce(); hit {
		return p.errorPageResult(result, info)
	}

	// EXTRACT_SUPPLIER — best-effort; falls back to Unknown_Supplier.
	result.SupplierName = p.extractSupplier()

	// DISCOVER
	anchors, err := p.session.AttachmentAnchors()
	if err != nil {
		result.StatusCode = model.StatusFailed
		result.StatusReason = model.ReasonException
		result.Message = humanize(err)
		return result
	}
	candidates := discoverCandidates(anchors)
	result.AttachmentsFound = len(candidates)

	if len(candidates) == 0 {
		code, reason := model.DeriveStatus(0, 0, false, "")
		result.Success = true
		result.StatusCode = code
		result.StatusReason = reason
		p.finalizeFolder(&result, item, "")
		return result
	}

	// SETUP_DIR
	folderPath, err := p.folders.CreateFolder(item.DisplayID, nonPlaceholderSupplier(result.SupplierName))
	if err != nil {
		result.StatusCode = model.StatusFailed
		result.StatusReason = model.ReasonException
		result.Message = humanize(err)
		return result
	}
	if err := p.session.SetDownloadDir(folderPath); err != nil {
		result.StatusCode = model.StatusFailed
		result.StatusReason = model.ReasonException
		result.Message = humanize(err)
		p.finalizeFolder(&result, item, folderPath)
		return result
	}

	before, err := snapshotDir(folderPath)
	if err != nil {
		p.logger.Warn("failed to snapshot destination folder before download",
			utils.DisplayIDField(item.DisplayID), zap.Error(err))
	}

	// DOWNLOAD_LOOP
	for _, c := range candidates {
		if err := p.session.ClickAnchor(c.href); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", c.filename, err))
			p.logger.Debug("attachment click failed",
				utils.DisplayIDField(item.DisplayID), zap.String("href", c.href), zap.Error(err))
		}
	}

	// SETTLE_ALL
	downloaded, names := settle(folderPath, before, p.cfg.DownloadSettleTimeout())
	result.AttachmentsDownloaded = downloaded
	result.AttachmentNames = names

	// POST_RESULT
	code, reason := model.DeriveStatus(result.AttachmentsFound, result.AttachmentsDownloaded, false, "")
	result.StatusCode = code
	result.StatusReason = reason
	result.Success = code == model.StatusCompleted || code == model.StatusPartial || code == model.StatusNoAttachments

	p.finalizeFolder(&result, item, folderPath)
	return result
}

func (p *Processor) navigationFailure(result model.PoResult, err error) model.PoResult {
	result.StatusCode = model.StatusFailed
	result.StatusReason = model.ReasonNavigationError
	result.Message = humanize(err)
	return result
}

func (p *Processor) errorPageResult(result model.PoResult, info errorPageInfo) model.PoResult {
	result.StatusCode = model.StatusPoNotFound
	result.StatusReason = model.ReasonCoupaErrorPage
	result.Message = fmt.Sprintf("matched %q during %s phase", info.marker, info.phase)
	return result
}

// finalizeFolder records the (not yet renamed) destination folder path on
// the result. The status-suffix rename itself is the Scheduler's job, run
// only after the state file records the status, so a crash between the
// two steps still leaves the state file truthful.
func (p *Processor) finalizeFolder(result *model.PoResult, item model.PoWorkItem, folderPath string) {
	result.FinalFolderPath = folderPath
}

// nonPlaceholderSupplier returns "" when the supplier is still the
// Unknown_Supplier placeholder, so FolderManager.CreateFolder takes the
// displayId-keyed placeholder branch rather than literally naming a
// folder "Unknown_Supplier" for every unresolved PO at once.
func nonPlaceholderSupplier(supplier string) string {
	if supplier == model.UnknownSupplier {
		return ""
	}
	return supplier
}

// extractSupplier is best-effort: it tries one known selector for the
// supplier name and falls back to Unknown_Supplier on any miss.
func (p *Processor) extractSupplier() string {
	text, err := p.session.EvaluateText(`(function(){
		var el = document.querySelector('[data-supplier-name], .supplier-name, .po-supplier-name');
		return el ? el.textContent.trim() : '';
	})()`)
	if err != nil || strings.TrimSpace(text) == "" {
		return model.UnknownSupplier
	}
	return strings.TrimSpace(text)
}

func humanize(err error) string {
	msg := err.Error()
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

type candidate struct {
	href     string
	filename string
}

// discoverCandidates filters anchors to attachment-shaped links and
// deduplicates by normalized href.
func discoverCandidates(anchors []browser.AnchorInfo) []candidate {
	seen := make(map[string]bool, len(anchors))
	var out []candidate
	for _, a := range anchors {
		href := strings.TrimSpace(a.Href)
		if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "#") {
			continue
		}
		if !isAttachmentHref(href) {
			continue
		}
		norm := normalizeHref(href)
		if seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, candidate{href: href, filename: extractFilename(a)})
	}
	return out
}

func isAttachmentHref(href string) bool {
	lower := strings.ToLower(href)
	for _, kw := range attachmentKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return hasKnownExtension(lower)
}

var knownExtensions = []string{
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".csv", ".txt",
	".png", ".jpg", ".jpeg", ".gif", ".zip", ".msg", ".eml",
}

func hasKnownExtension(lowerHref string) bool {
	for _, ext := range knownExtensions {
		if strings.HasSuffix(lowerHref, ext) {
			return true
		}
	}
	return false
}

func normalizeHref(href string) string {
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	return strings.ToLower(strings.TrimSpace(href))
}

// extractFilename applies a priority order: the download attribute, then
// title, then aria-label (with the trailing
// "file attachment" suffix stripped), then visible text, then the href's
// basename.
func extractFilename(a browser.AnchorInfo) string {
	if v := strings.TrimSpace(a.Download); v != "" {
		return v
	}
	if v := strings.TrimSpace(a.Title); v != "" {
		return v
	}
	if v := strings.TrimSpace(a.AriaLabel); v != "" {
		return trimFileAttachmentSuffix(v)
	}
	if v := strings.TrimSpace(a.Text); v != "" {
		return v
	}
	return path.Base(normalizeHref(a.Href))
}

func trimFileAttachmentSuffix(s string) string {
	lower := strings.ToLower(s)
	const suffix = "file attachment"
	if strings.HasSuffix(lower, suffix) {
		return strings.TrimSpace(s[:len(s)-len(suffix)])
	}
	return s
}

// snapshotDir lists the current entries of dir by name, for the
// before/after settle comparison that is the source of truth for
// attachmentsDownloaded.
func snapshotDir(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names[e.Name()] = true
	}
	return names, nil
}

// settle polls dir until no partial-download files remain or timeout
// elapses, then returns the count and names of files new since before
// that are not themselves partial files.
func settle(dir string, before map[string]bool, timeout time.Duration) (int, []string) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !hasPartialFiles(dir) {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}

	after, err := snapshotDir(dir)
	if err != nil {
		return 0, nil
	}

	var names []string
	for name := range after {
		if before[name] {
			continue
		}
		if isPartialFile(name) {
			continue
		}
		names = append(names, name)
	}
	return len(names), names
}

func hasPartialFiles(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && isPartialFile(e.Name()) {
			return true
		}
	}
	return false
}

func isPartialFile(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}
