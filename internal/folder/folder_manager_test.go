package folder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CzarX86/CoupaDownloads-sub000/internal/model"
)

func TestSanitize(t *testing.T) {
	t.Run("maps unsafe characters to underscore", func(t *testing.T) {
		assert.Equal(t, "Acme_Corp", Sanitize("Acme/Corp"))
		assert.Equal(t, "A_B_C", Sanitize("A<B>C"))
	})

	t.Run("collapses runs of underscores", func(t *testing.T) {
		assert.Equal(t, "A_B", Sanitize("A   B"))
	})

	t.Run("empty name becomes Unknown_Supplier", func(t *testing.T) {
		assert.Equal(t, model.UnknownSupplier, Sanitize(""))
	})

	t.Run("all-unsafe name becomes Unknown_Supplier", func(t *testing.T) {
		assert.Equal(t, model.UnknownSupplier, Sanitize("///"))
	})

	t.Run("truncates to 100 characters", func(t *testing.T) {
		long := ""
		for i := 0; i < 150; i++ {
			long += "a"
		}
		assert.LessOrEqual(t, len(Sanitize(long)), 100)
	})
}

func TestManager_CreateFolder(t *testing.T) {
	tempDir := t.TempDir()
	logger, _ := zap.NewDevelopment()
	m := New(tempDir, logger)

	t.Run("creates folder by supplier when known", func(t *testing.T) {
		path, err := m.CreateFolder("PO123", "Acme Corp")
		require.NoError(t, err)
		assert.DirExists(t, path)
		assert.Equal(t, filepath.Join(tempDir, "Acme_Corp"), path)
	})

	t.Run("creates placeholder folder when supplier unknown", func(t *testing.T) {
		path, err := m.CreateFolder("PO999", "")
		require.NoError(t, err)
		assert.DirExists(t, path)
		assert.Equal(t, filepath.Join(tempDir, model.UnknownSupplier, "PO999"), path)
	})

	t.Run("idempotent on existing folder", func(t *testing.T) {
		path1, err := m.CreateFolder("PO1", "Repeat Co")
		require.NoError(t, err)
		path2, err := m.CreateFolder("PO1", "Repeat Co")
		require.NoError(t, err)
		assert.Equal(t, path1, path2)
	})
}

func TestManager_RenameWithStatus(t *testing.T) {
	tempDir := t.TempDir()
	logger, _ := zap.NewDevelopment()
	m := New(tempDir, logger)

	t.Run("appends status suffix", func(t *testing.T) {
		path, err := m.CreateFolder("PO1", "Supplier A")
		require.NoError(t, err)

		final, err := m.RenameWithStatus(path, model.StatusCompleted, "_")
		require.NoError(t, err)
		assert.DirExists(t, final)
		assert.Equal(t, filepath.Join(tempDir, "Supplier_A_COMPLETED"), final)
	})

	t.Run("disambiguates on collision", func(t *testing.T) {
		p1, err := m.CreateFolder("PO2", "Supplier B")
		require.NoError(t, err)
		f1, err := m.RenameWithStatus(p1, model.StatusFailed, "_")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(tempDir, "Supplier_B_FAILED"), f1)

		p2, err := m.CreateFolder("PO3", "Supplier B")
		require.NoError(t, err)
		f2, err := m.RenameWithStatus(p2, model.StatusFailed, "_")
		require.NoError(t, err)
		assert.NotEqual(t, f1, f2)
		assert.DirExists(t, f2)
	})
}

func TestManager_MoveToSupplier(t *testing.T) {
	tempDir := t.TempDir()
	logger, _ := zap.NewDevelopment()
	m := New(tempDir, logger)

	placeholder, err := m.CreateFolder("PO7", "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(placeholder, "file.pdf"), []byte("x"), 0644))

	final, err := m.MoveToSupplier(placeholder, "Real Supplier")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tempDir, "Real_Supplier"), final)
	assert.FileExists(t, filepath.Join(final, "file.pdf"))
	assert.NoDirExists(t, placeholder)
}
