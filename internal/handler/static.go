package handler

import (
	"io/fs"
	"net/http"
)

// uploadFileSystem はディレクトリを開けないhttp.FileSystem。
// アップロードディレクトリの一覧表示を防ぐ。
type uploadFileSystem struct {
	root http.FileSystem
}

func (u uploadFileSystem) Open(name string) (http.File, error) {
	f, err := u.root.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}

// NewUploadFileServer はdir配下の画像を配信するハンドラーを返す。
// ディレクトリへのリクエストは404になる。
func NewUploadFileServer(dir string) http.Handler {
	fileServer := http.FileServer(uploadFileSystem{root: http.Dir(dir)})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		fileServer.ServeHTTP(w, r)
	})
}
