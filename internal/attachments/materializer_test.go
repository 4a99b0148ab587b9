package attachments

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaterialize_NoImagesReturnsNil(t *testing.T) {
	m := New(t.TempDir(), "xoxb-test")
	paths, err := m.Materialize("task1", []File{{Name: "doc.pdf", MimeType: "application/pdf"}})
	require.NoError(t, err)
	assert.Nil(t, paths)
}

func TestMaterialize_DownloadsImageAndSanitizesName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))
		w.Write([]byte("fake-png-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	m := New(dir, "xoxb-test")
	paths, err := m.Materialize("task1", []File{
		{Name: "weird name!.png", MimeType: "image/png", URLPrivate: srv.URL, Size: 14},
	})
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Contains(t, paths[0], "01_weird_name_.png")

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, "fake-png-bytes", string(data))
}

func TestMaterialize_CapsAtFourImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	var files []File
	for i := 0; i < 6; i++ {
		files = append(files, File{Name: "a.png", MimeType: "image/png", URLPrivate: srv.URL, Size: 1})
	}
	m := New(t.TempDir(), "xoxb-test")
	paths, err := m.Materialize("task1", files)
	require.NoError(t, err)
	assert.Len(t, paths, 4)
}

func TestMaterialize_OversizeFails(t *testing.T) {
	m := New(t.TempDir(), "xoxb-test")
	_, err := m.Materialize("task1", []File{{Name: "big.png", MimeType: "image/png", Size: 21 * 1024 * 1024}})
	assert.Error(t, err)
}

func TestMaterialize_DownloadErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	m := New(t.TempDir(), "xoxb-test")
	_, err := m.Materialize("task1", []File{{Name: "a.png", MimeType: "image/png", URLPrivate: srv.URL, Size: 1}})
	assert.Error(t, err)
}

func TestExtensionFor_FallsBackToMimeType(t *testing.T) {
	assert.Equal(t, ".jpg", extensionFor("noext", "image/jpeg"))
	assert.Equal(t, ".img", extensionFor("noext", "image/unknown"))
	assert.Equal(t, ".png", extensionFor("a.png", "image/jpeg"))
}

func TestSanitizeName_ReplacesDisallowedChars(t *testing.T) {
	assert.Equal(t, "a_b_c", sanitizeName("a b!c"))
}

func TestMaterialize_CreatesPerTaskDirectory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	m := New(dir, "xoxb-test")
	_, err := m.Materialize("task-xyz", []File{{Name: "a.png", MimeType: "image/png", URLPrivate: srv.URL, Size: 1}})
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "task-xyz"))
	assert.NoError(t, statErr)
}
