package media

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestUploadPassThrough(t *testing.T) {
	t.Parallel()

	g := &CloudinaryGate{HTTP: &http.Client{Transport: failingTransport{t}}}

	ref, err := g.Upload(context.Background(), "", FolderAttachment)
	require.NoError(t, err)
	require.Empty(t, ref)

	ref, err = g.Upload(context.Background(), "https://cdn/x.png", FolderAttachment)
	require.NoError(t, err)
	require.Equal(t, "https://cdn/x.png", ref)
}

type failingTransport struct{ t *testing.T }

func (f failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	f.t.Fatal("unexpected network call")
	return nil, nil
}

func TestUploadPostsMultipart(t *testing.T) {
	t.Parallel()

	var (
		gotPath   string
		gotPreset string
		gotFolder string
		gotType   string
		gotBytes  []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotPreset = r.FormValue("upload_preset")
		gotFolder = r.FormValue("folder")
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		gotType = hdr.Header.Get("Content-Type")
		gotBytes, _ = io.ReadAll(f)
		_, _ = w.Write([]byte(`{"secure_url":"https://res.cloudinary.com/demo/image/upload/a.png"}`))
	}))
	defer srv.Close()

	g := NewCloudinaryGate("demo", "unsigned")
	g.BaseURL = srv.URL

	path := writeFile(t, "a.png", pngHeader)
	ref, err := g.Upload(context.Background(), path, FolderGroupAvatar)
	require.NoError(t, err)
	require.Equal(t, "https://res.cloudinary.com/demo/image/upload/a.png", ref)

	require.Equal(t, "/demo/image/upload", gotPath)
	require.Equal(t, "unsigned", gotPreset)
	require.Equal(t, FolderGroupAvatar, gotFolder)
	require.Equal(t, "image/png", gotType)
	require.Equal(t, pngHeader, gotBytes)
}

func TestUploadServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Upload preset not found"}}`))
	}))
	defer srv.Close()

	g := NewCloudinaryGate("demo", "missing")
	g.BaseURL = srv.URL

	_, err := g.Upload(context.Background(), writeFile(t, "notes.txt", []byte("hello")), FolderAttachment)
	require.ErrorContains(t, err, "Upload preset not found")
}

func TestUploadMissingFile(t *testing.T) {
	t.Parallel()

	g := NewCloudinaryGate("demo", "unsigned")
	_, err := g.Upload(context.Background(), filepath.Join(t.TempDir(), "nope.png"), FolderProfile)
	require.Error(t, err)
}

func TestUploadUnconfigured(t *testing.T) {
	t.Parallel()

	g := &CloudinaryGate{}
	_, err := g.Upload(context.Background(), "/tmp/a.png", FolderProfile)
	require.ErrorIs(t, err, ErrUploadsDisabled)
}

func TestDisabledGate(t *testing.T) {
	t.Parallel()

	var g Gate = Disabled{}
	ref, err := g.Upload(context.Background(), "https://cdn/a.png", FolderProfile)
	require.NoError(t, err)
	require.Equal(t, "https://cdn/a.png", ref)

	_, err = g.Upload(context.Background(), "/tmp/a.png", FolderProfile)
	require.ErrorIs(t, err, ErrUploadsDisabled)
}

func TestIsRemote(t *testing.T) {
	t.Parallel()

	require.True(t, IsRemote("HTTPS://x"))
	require.True(t, IsRemote("http://x"))
	require.False(t, IsRemote("file:///tmp/x"))
	require.False(t, IsRemote("/tmp/x"))
}
