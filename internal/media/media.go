//go:generate go run go.uber.org/mock/mockgen -source=media.go -destination=mediamock/mock_gate.go -package=mediamock

// Package media turns local media handles into durable remote references.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bhandras/chatsync/pkg/logger"
	"github.com/gabriel-vasile/mimetype"
)

// Upload folders.
const (
	FolderAttachment  = "message-attachment"
	FolderGroupAvatar = "group-avatar"
	FolderProfile     = "profiles"
)

// Gate uploads a local media handle and returns the remote reference to put
// on the wire.
type Gate interface {
	Upload(ctx context.Context, handle, folder string) (string, error)
}

// IsRemote reports whether handle already is a remote reference.
func IsRemote(handle string) bool {
	h := strings.ToLower(handle)
	return strings.HasPrefix(h, "http://") || strings.HasPrefix(h, "https://")
}

// ErrUploadsDisabled is returned by Disabled for local handles.
var ErrUploadsDisabled = errors.New("media uploads are not configured")

// Disabled is the Gate used when no upload backend is configured. It passes
// remote references through and refuses local files.
type Disabled struct{}

// Upload implements Gate.
func (Disabled) Upload(_ context.Context, handle, _ string) (string, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" || IsRemote(handle) {
		return handle, nil
	}
	return "", ErrUploadsDisabled
}

// MaxUploadSize bounds the files CloudinaryGate accepts.
const MaxUploadSize = 20 << 20

// DefaultUploadBase is the Cloudinary API root.
const DefaultUploadBase = "https://api.cloudinary.com/v1_1"

// CloudinaryGate uploads to an unsigned Cloudinary upload preset.
type CloudinaryGate struct {
	// BaseURL defaults to DefaultUploadBase.
	BaseURL   string
	CloudName string
	Preset    string
	HTTP      *http.Client
}

var _ Gate = (*CloudinaryGate)(nil)

// NewCloudinaryGate returns a gate for cloudName and the unsigned preset.
func NewCloudinaryGate(cloudName, preset string) *CloudinaryGate {
	return &CloudinaryGate{
		BaseURL:   DefaultUploadBase,
		CloudName: cloudName,
		Preset:    preset,
		HTTP:      &http.Client{Timeout: 60 * time.Second},
	}
}

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Upload implements Gate. Remote URLs are returned unchanged and an empty
// handle yields an empty reference; neither touches the network.
func (g *CloudinaryGate) Upload(ctx context.Context, handle, folder string) (string, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return "", nil
	}
	if IsRemote(handle) {
		return handle, nil
	}
	if g.CloudName == "" || g.Preset == "" {
		return "", ErrUploadsDisabled
	}

	data, err := readLocal(handle)
	if err != nil {
		return "", err
	}
	mt := mimetype.Detect(data)

	body, contentType, err := multipartBody(filepath.Base(handle), mt.String(), data, map[string]string{
		"upload_preset": g.Preset,
		"folder":        folder,
	})
	if err != nil {
		return "", err
	}

	base := g.BaseURL
	if base == "" {
		base = DefaultUploadBase
	}
	endpoint := fmt.Sprintf("%s/%s/%s/upload", strings.TrimRight(base, "/"), g.CloudName, resourceType(mt))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	client := g.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	logger.Debugf("media: uploading %s (%s, %d bytes) to %s", handle, mt.String(), len(data), folder)
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read upload response: %w", err)
	}
	var out uploadResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("upload failed with status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error != nil && out.Error.Message != "" {
			return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, out.Error.Message)
		}
		return "", fmt.Errorf("upload failed with status %d", resp.StatusCode)
	}

	ref := out.SecureURL
	if ref == "" {
		ref = out.URL
	}
	if ref == "" {
		return "", errors.New("upload response carried no url")
	}
	return ref, nil
}

func readLocal(handle string) ([]byte, error) {
	path := strings.TrimPrefix(handle, "file://")
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxUploadSize {
		return nil, fmt.Errorf("%s is larger than %d bytes", path, MaxUploadSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// resourceType maps a detected type onto Cloudinary's upload endpoints.
func resourceType(mt *mimetype.MIME) string {
	for m := mt; m != nil; m = m.Parent() {
		switch {
		case strings.HasPrefix(m.String(), "image/"):
			return "image"
		case strings.HasPrefix(m.String(), "video/"), strings.HasPrefix(m.String(), "audio/"):
			return "video"
		}
	}
	return "raw"
}

func multipartBody(filename, contentType string, data []byte, fields map[string]string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
