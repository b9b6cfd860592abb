package poprocessor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CzarX86/CoupaDownloads-sub000/internal/browser"
)

func TestDiscoverCandidates_FiltersAndDedupes(t *testing.T) {
	anchors := []browser.AnchorInfo{
		{Href: "/attachments/attachment_file/123", Text: "invoice.pdf"},
		{Href: "/attachments/attachment_file/123?v=2", Text: "invoice.pdf (dup)"},
		{Href: "/nav/help", Text: "Help"},
		{Href: "javascript:void(0)", Text: "noop"},
		{Href: "/files/report.xlsx", Text: "report"},
		{Href: "", Text: "empty"},
	}

	got := discoverCandidates(anchors)
	require.Len(t, got, 2)
	assert.Equal(t, "/attachments/attachment_file/123", got[0].href)
	assert.Equal(t, "/files/report.xlsx", got[1].href)
}

func TestExtractFilename_PriorityOrder(t *testing.T) {
	assert.Equal(t, "named.pdf", extractFilename(browser.AnchorInfo{
		Download: "named.pdf", Title: "t", AriaLabel: "a", Text: "txt", Href: "/x/y.pdf",
	}))
	assert.Equal(t, "titled.pdf", extractFilename(browser.AnchorInfo{
		Title: "titled.pdf", AriaLabel: "a", Text: "txt", Href: "/x/y.pdf",
	}))
	assert.Equal(t, "Invoice", extractFilename(browser.AnchorInfo{
		AriaLabel: "Invoice file attachment", Text: "txt", Href: "/x/y.pdf",
	}))
	assert.Equal(t, "txt", extractFilename(browser.AnchorInfo{
		Text: "txt", Href: "/x/y.pdf",
	}))
	assert.Equal(t, "y.pdf", extractFilename(browser.AnchorInfo{
		Href: "/x/y.pdf",
	}))
}

func TestIsAttachmentHref(t *testing.T) {
	assert.True(t, isAttachmentHref("/coupa/attachment_file/99"))
	assert.True(t, isAttachmentHref("/files/report.PDF"))
	assert.False(t, isAttachmentHref("/order_headers/99/edit"))
}

func TestSettle_CountsNewNonPartialFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "preexisting.pdf"), []byte("x"), 0644))

	before, err := snapshotDir(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.pdf"), []byte("y"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "still-downloading.crdownload"), []byte(""), 0644))
	require.NoError(t, os.Remove(filepath.Join(dir, "still-downloading.crdownload")))

	count, names := settle(dir, before, 0)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"new.pdf"}, names)
}

func TestIsPartialFile(t *testing.T) {
	assert.True(t, isPartialFile("report.pdf.crdownload"))
	assert.True(t, isPartialFile("report.tmp"))
	assert.False(t, isPartialFile("report.pdf"))
}
