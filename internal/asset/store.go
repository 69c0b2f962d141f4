// Package asset はアイキャッチ画像ファイルの保存と削除を提供する。
//
// アップロードされた画像は内容から形式を判定し、最大幅を超える場合は縮小して
// UUIDのファイル名でアップロードディレクトリ直下に保存する。
// 再エンコードによりEXIF等のメタデータは除去される。
package asset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	_ "golang.org/x/image/webp" // WebPデコーダ
)

// 既定値
const (
	DefaultMaxBytes = 5 << 20
	DefaultMaxWidth = 1920
	jpegQuality     = 90
)

// 保存時のエラー
var (
	ErrTooLarge        = errors.New("asset: file too large")
	ErrUnsupportedType = errors.New("asset: unsupported image type")
	ErrInvalidImage    = errors.New("asset: image could not be decoded")
	ErrInvalidPath     = errors.New("asset: invalid path")
)

// Stored は保存した画像の情報。
type Stored struct {
	URL         string
	Path        string
	ContentType string
	Size        int64
	Width       int
	Height      int
}

// LocalStore はローカルディスクに画像を保存する。
type LocalStore struct {
	dir      string
	baseURL  string
	maxWidth int
	maxBytes int64
}

// NewLocalStore はLocalStoreを生成し、保存先ディレクトリを作成する。
// baseURLは保存した画像の公開URLの接頭辞（例: https://example.com/uploads）。
func NewLocalStore(dir, baseURL string, maxWidth int, maxBytes int64) (*LocalStore, error) {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("アップロードディレクトリの作成に失敗しました: %w", err)
	}
	return &LocalStore{
		dir:      dir,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxWidth: maxWidth,
		maxBytes: maxBytes,
	}, nil
}

// Dir は保存先ディレクトリを返す。
func (s *LocalStore) Dir() string {
	return s.dir
}

// MaxBytes は受け付ける最大サイズを返す。
func (s *LocalStore) MaxBytes() int64 {
	return s.maxBytes
}

// Store は画像を検証・正規化して保存する。
// 形式はクライアントの申告ではなく内容から判定し、JPEG, PNG, GIF, WebPのみ受け付ける。
// WebPはエンコーダがないためJPEGとして保存する。
func (s *LocalStore) Store(ctx context.Context, r io.Reader) (*Stored, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("画像の読み込みに失敗しました: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrTooLarge
	}

	format := detectFormat(data)
	if format == "" {
		return nil, ErrUnsupportedType
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	resized := false
	if img.Bounds().Dx() > s.maxWidth {
		img = imaging.Resize(img, s.maxWidth, 0, imaging.Lanczos)
		resized = true
	}

	var out []byte
	if format == "gif" && !resized {
		// アニメーションを保持する
		out = data
	} else {
		out, format, err = encode(img, format)
		if err != nil {
			return nil, fmt.Errorf("画像のエンコードに失敗しました: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := uuid.New().String() + "." + extension(format)
	if err := s.write(name, out); err != nil {
		return nil, err
	}

	b := img.Bounds()
	return &Stored{
		URL:         s.URL(name),
		Path:        name,
		ContentType: "image/" + format,
		Size:        int64(len(out)),
		Width:       b.Dx(),
		Height:      b.Dy(),
	}, nil
}

// URL は保存パスの公開URLを返す。
func (s *LocalStore) URL(path string) string {
	return s.baseURL + "/" + path
}

// URLToPath は公開URLを保存パスに変換する。このストアが発行したURLでなければfalseを返す。
func (s *LocalStore) URLToPath(url string) (string, bool) {
	rest, ok := strings.CutPrefix(url, s.baseURL+"/")
	if !ok || !validName(rest) {
		return "", false
	}
	return rest, true
}

// Delete は保存パスのファイルを削除する。既に存在しない場合は成功とみなす。
func (s *LocalStore) Delete(_ context.Context, path string) error {
	if !validName(path) {
		return ErrInvalidPath
	}
	if err := os.Remove(filepath.Join(s.dir, path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("画像ファイルの削除に失敗しました: %w", err)
	}
	slog.Debug("画像ファイルを削除しました", "path", path)
	return nil
}

// ListOlderThan はcutoffより前に更新された保存パスを返す。
func (s *LocalStore) ListOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("アップロードディレクトリの読み込みに失敗しました: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !validName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// 列挙後に削除された
			continue
		}
		if info.ModTime().Before(cutoff) {
			paths = append(paths, e.Name())
		}
	}
	return paths, nil
}

// write は一時ファイルに書き込んでからリネームし、途中の状態を公開しない。
func (s *LocalStore) write(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("一時ファイルの作成に失敗しました: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("画像の書き込みに失敗しました: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("画像の書き込みに失敗しました: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("画像の権限設定に失敗しました: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("画像の保存に失敗しました: %w", err)
	}
	return nil
}

// detectFormat は内容から画像形式を判定する。未対応の形式は空文字を返す。
func detectFormat(data []byte) string {
	switch mimetype.Detect(data).String() {
	case "image/jpeg":
		return "jpeg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	default:
		return ""
	}
}

// encode は画像を再エンコードし、実際に出力した形式を返す。
func encode(img image.Image, format string) ([]byte, string, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case "png":
		err = png.Encode(&buf, img)
	case "gif":
		err = gif.Encode(&buf, img, nil)
	default:
		format = "jpeg"
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	}
	if err != nil {
		return nil, "", err
	}
	return buf.Bytes(), format, nil
}

func extension(format string) string {
	if format == "jpeg" {
		return "jpg"
	}
	return format
}

// validName はディレクトリ直下の保存ファイル名として妥当かを返す。
func validName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	return filepath.Base(name) == name && !strings.ContainsAny(name, `/\`)
}
