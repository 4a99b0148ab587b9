// Package attachments downloads image files referenced by a command
// message to a per-task directory so the Executor can pass their local
// paths to the invoked shell or agent CLI.
package attachments

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	maxImagesPerTask  = 4
	maxImageBytes     = 20 * 1024 * 1024
	httpClientTimeout = 30 * time.Second
)

// File is one file attached to a Slack message, as the listener normalizes it.
type File struct {
	Name       string
	MimeType   string
	URLPrivate string
	Size       int64
}

// Materializer downloads allowed image attachments for a task.
type Materializer struct {
	baseDir  string
	botToken string
	client   *http.Client
}

// New builds a Materializer rooted at baseDir, authenticating downloads
// with botToken as a bearer header.
func New(baseDir, botToken string) *Materializer {
	return &Materializer{baseDir: baseDir, botToken: botToken, client: &http.Client{Timeout: httpClientTimeout}}
}

var sanitizeRe = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func sanitizeName(name string) string {
	return sanitizeRe.ReplaceAllString(name, "_")
}

func extensionFor(name, mimeType string) string {
	if ext := filepath.Ext(name); ext != "" {
		return ext
	}
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".img"
	}
}

// Materialize downloads the image files among files (up to 4, 20 MiB each)
// into <baseDir>/<taskID>/NN_<sanitized>.<ext> and returns their absolute
// paths. Any failure aborts the whole batch and returns an error describing
// the cause; partial output on disk is left as-is for inspection.
func (m *Materializer) Materialize(taskID string, files []File) ([]string, error) {
	var images []File
	for _, f := range files {
		if strings.HasPrefix(f.MimeType, "image/") {
			images = append(images, f)
		}
	}
	if len(images) == 0 {
		return nil, nil
	}
	if len(images) > maxImagesPerTask {
		images = images[:maxImagesPerTask]
	}

	taskDir := filepath.Join(m.baseDir, taskID)
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		return nil, fmt.Errorf("create attachment dir for task %s: %w", taskID, err)
	}

	var paths []string
	for i, f := range images {
		if f.Size > maxImageBytes {
			return nil, fmt.Errorf("attachment %s exceeds %d byte limit", f.Name, maxImageBytes)
		}

		ext := extensionFor(f.Name, f.MimeType)
		base := sanitizeName(strings.TrimSuffix(f.Name, filepath.Ext(f.Name)))
		if base == "" {
			base = "file"
		}
		destPath := filepath.Join(taskDir, fmt.Sprintf("%02d_%s%s", i+1, base, ext))

		if err := m.download(f.URLPrivate, destPath); err != nil {
			return nil, fmt.Errorf("download attachment %s: %w", f.Name, err)
		}
		abs, err := filepath.Abs(destPath)
		if err != nil {
			return nil, fmt.Errorf("resolve absolute path for %s: %w", destPath, err)
		}
		paths = append(paths, abs)
	}
	return paths, nil
}

func (m *Materializer) download(url, destPath string) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.botToken)

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d downloading %s", resp.StatusCode, url)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	n, err := io.Copy(out, io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return err
	}
	if n > maxImageBytes {
		return fmt.Errorf("download of %s exceeds %d byte limit", url, maxImageBytes)
	}
	return nil
}
