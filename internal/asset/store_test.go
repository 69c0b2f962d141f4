package asset

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURL = "http://localhost:8080/uploads"

func newTestStore(t *testing.T, maxWidth int, maxBytes int64) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(filepath.Join(t.TempDir(), "uploads"), baseURL+"/", maxWidth, maxBytes)
	require.NoError(t, err)
	return s
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(w, h)))
	return buf.Bytes()
}

func TestStore_PNG(t *testing.T) {
	s := newTestStore(t, 0, 0)

	got, err := s.Store(context.Background(), bytes.NewReader(pngBytes(t, 40, 20)))
	require.NoError(t, err)

	assert.Equal(t, "image/png", got.ContentType)
	assert.True(t, strings.HasSuffix(got.Path, ".png"))
	assert.Equal(t, baseURL+"/"+got.Path, got.URL)
	assert.Equal(t, 40, got.Width)
	assert.Equal(t, 20, got.Height)

	info, err := os.Stat(filepath.Join(s.Dir(), got.Path))
	require.NoError(t, err)
	assert.Equal(t, got.Size, info.Size())
}

// 最大幅を超える画像は縦横比を保って縮小されることを検証
func TestStore_ResizesWideImage(t *testing.T) {
	s := newTestStore(t, 100, 0)

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(400, 200), nil))

	got, err := s.Store(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", got.ContentType)
	assert.True(t, strings.HasSuffix(got.Path, ".jpg"))
	assert.Equal(t, 100, got.Width)
	assert.Equal(t, 50, got.Height)

	f, err := os.Open(filepath.Join(s.Dir(), got.Path))
	require.NoError(t, err)
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 100, cfg.Width)
}

// 縮小不要のGIFは元のバイト列のまま保存されることを検証
func TestStore_GIFKeptAsIs(t *testing.T) {
	s := newTestStore(t, 0, 0)

	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, testImage(10, 10), nil))
	original := buf.Bytes()

	got, err := s.Store(context.Background(), bytes.NewReader(original))
	require.NoError(t, err)
	assert.Equal(t, "image/gif", got.ContentType)

	saved, err := os.ReadFile(filepath.Join(s.Dir(), got.Path))
	require.NoError(t, err)
	assert.Equal(t, original, saved)
}

func TestStore_Rejects(t *testing.T) {
	s := newTestStore(t, 0, 1024)

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"テキスト", []byte("hello, world"), ErrUnsupportedType},
		{"SVG", []byte(`<svg xmlns="http://www.w3.org/2000/svg"></svg>`), ErrUnsupportedType},
		{"サイズ超過", pngBytes(t, 200, 200), ErrTooLarge},
		{"壊れたPNG", append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...), ErrInvalidImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Store(context.Background(), bytes.NewReader(tt.data))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestURLToPath(t *testing.T) {
	s := newTestStore(t, 0, 0)

	tests := []struct {
		url    string
		want   string
		wantOK bool
	}{
		{baseURL + "/abc.png", "abc.png", true},
		{"https://cdn.example.com/abc.png", "", false},
		{baseURL + "/", "", false},
		{baseURL + "/../secret", "", false},
		{baseURL + "/nested/abc.png", "", false},
		{baseURL + "/.hidden", "", false},
		{baseURL + "abc.png", "", false},
	}
	for _, tt := range tests {
		got, ok := s.URLToPath(tt.url)
		assert.Equal(t, tt.wantOK, ok, tt.url)
		assert.Equal(t, tt.want, got, tt.url)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t, 0, 0)
	ctx := context.Background()

	got, err := s.Store(ctx, bytes.NewReader(pngBytes(t, 4, 4)))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, got.Path))
	_, err = os.Stat(filepath.Join(s.Dir(), got.Path))
	assert.True(t, os.IsNotExist(err))

	// 存在しないファイルの削除は成功扱い
	assert.NoError(t, s.Delete(ctx, got.Path))

	assert.ErrorIs(t, s.Delete(ctx, "../outside.png"), ErrInvalidPath)
	assert.ErrorIs(t, s.Delete(ctx, ""), ErrInvalidPath)
}

func TestListOlderThan(t *testing.T) {
	s := newTestStore(t, 0, 0)
	ctx := context.Background()

	old, err := s.Store(ctx, bytes.NewReader(pngBytes(t, 4, 4)))
	require.NoError(t, err)
	recent, err := s.Store(ctx, bytes.NewReader(pngBytes(t, 4, 4)))
	require.NoError(t, err)

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(s.Dir(), old.Path), past, past))
	// 一時ファイルとサブディレクトリは対象外
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), ".upload-123"), []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(filepath.Join(s.Dir(), ".upload-123"), past, past))
	require.NoError(t, os.Mkdir(filepath.Join(s.Dir(), "sub"), 0o755))

	got, err := s.ListOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{old.Path}, got)
	assert.NotContains(t, got, recent.Path)
}
