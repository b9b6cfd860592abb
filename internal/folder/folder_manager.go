// Package folder computes, creates, and renames the per-PO destination
// folders attachments land in: <downloadBaseDir>/<sanitized supplier>
// (or Unknown_Supplier/<displayId> before the supplier is known), renamed
// on finalization to carry a _<STATUS> suffix.
package folder

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/CzarX86/CoupaDownloads-sub000/internal/model"
)

// Manager creates and finalizes per-PO destination folders under one
// immutable base directory. The base directory itself is never altered.
type Manager struct {
	baseDir string
	logger  *zap.Logger
}

// New creates a Manager rooted at baseDir.
func New(baseDir string, logger *zap.Logger) *Manager {
	return &Manager{baseDir: baseDir, logger: logger}
}

var (
	unsafeChars   = regexp.MustCompile(`[\s<>:"/\\|?*&]+`)
	repeatedUnder = regexp.MustCompile(`_+`)
)

// Sanitize maps the filesystem-unsafe character class to underscores,
// collapses runs of underscores, strips leading/trailing "_." and
// truncates to 100 characters. An empty or all-unsafe name becomes
// model.UnknownSupplier.
func Sanitize(name string) string {
	if name == "" {
		return model.UnknownSupplier
	}

	s := unsafeChars.ReplaceAllString(name, "_")
	s = repeatedUnder.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_.")

	if len(s) > 100 {
		s = s[:100]
		s = strings.Trim(s, "_.")
	}

	if s == "" {
		return model.UnknownSupplier
	}
	return s
}

// CreateFolder builds baseDir/sanitize(supplier), or
// baseDir/Unknown_Supplier/displayID when the supplier isn't known yet.
// It creates any missing parent directories and is idempotent when the
// folder already exists.
func (m *Manager) CreateFolder(displayID, supplier string) (string, error) {
	var folderPath string
	if supplier == "" {
		folderPath = filepath.Join(m.baseDir, model.UnknownSupplier, displayID)
	} else {
		folderPath = filepath.Join(m.baseDir, Sanitize(supplier))
	}

	if err := os.MkdirAll(folderPath, 0755); err != nil {
		m.logger.Error("failed to create destination folder",
			zap.String("display_id", displayID),
			zap.String("folder_path", folderPath),
			zap.Error(err))
		return "", fmt.Errorf("failed to create folder: %w", err)
	}

	m.logger.Debug("destination folder ready",
		zap.String("display_id", displayID),
		zap.String("folder_path", folderPath))
	return folderPath, nil
}

// MoveToSupplier relocates a placeholder Unknown_Supplier/<displayID> folder
// to baseDir/sanitize(supplier) once the real supplier becomes known after
// navigation, merging contents if the destination already has files.
func (m *Manager) MoveToSupplier(placeholderPath, supplier string) (string, error) {
	target := filepath.Join(m.baseDir, Sanitize(supplier))
	if placeholderPath == target {
		return target, nil
	}

	if _, err := os.Stat(target); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return placeholderPath, fmt.Errorf("failed to prepare supplier folder: %w", err)
		}
		if err := os.Rename(placeholderPath, target); err != nil {
			m.logger.Warn("failed to move placeholder folder to supplier folder",
				zap.String("from", placeholderPath), zap.String("to", target), zap.Error(err))
			return placeholderPath, fmt.Errorf("failed to move folder: %w", err)
		}
		return target, nil
	}

	// Destination already exists: merge entries in, then remove the
	// now-empty placeholder.
	entries, err := os.ReadDir(placeholderPath)
	if err != nil {
		return placeholderPath, fmt.Errorf("failed to read placeholder folder: %w", err)
	}
	for _, e := range entries {
		src := filepath.Join(placeholderPath, e.Name())
		dst := filepath.Join(target, e.Name())
		if err := os.Rename(src, dst); err != nil {
			m.logger.Warn("failed to merge file into supplier folder",
				zap.String("src", src), zap.String("dst", dst), zap.Error(err))
		}
	}
	_ = os.Remove(placeholderPath)
	return target, nil
}

// RenameWithStatus appends "<separator><statusCode>" to folderPath's final
// component, disambiguating with a numeric suffix on collision. If the
// rename fails, the original path is returned alongside the error so the
// caller can surface it in PoResult.Errors without losing track of where
// the files actually live.
func (m *Manager) RenameWithStatus(folderPath string, statusCode model.StatusCode, separator string) (string, error) {
	parent := filepath.Dir(folderPath)
	base := filepath.Base(folderPath)
	candidate := filepath.Join(parent, fmt.Sprintf("%s%s%s", base, separator, statusCode))

	final := candidate
	for i := 2; pathExists(final) && final != folderPath; i++ {
		final = fmt.Sprintf("%s_%d", candidate, i)
	}

	if final == folderPath {
		return folderPath, nil
	}

	if err := os.Rename(folderPath, final); err != nil {
		m.logger.Warn("failed to rename folder with status suffix",
			zap.String("folder_path", folderPath),
			zap.String("target", final),
			zap.Error(err))
		return folderPath, fmt.Errorf("failed to rename folder: %w", err)
	}
	return final, nil
}

func pathExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
