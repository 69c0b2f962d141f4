package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/blogman/internal/asset"
	"github.com/hitoshi/blogman/internal/middleware"
	"github.com/hitoshi/blogman/internal/model"
	"github.com/hitoshi/blogman/internal/post"
	"github.com/hitoshi/blogman/internal/posttag"
	"github.com/hitoshi/blogman/internal/profile"
	"github.com/hitoshi/blogman/internal/render"
	"github.com/hitoshi/blogman/internal/repository/repotest"
	"github.com/hitoshi/blogman/internal/tag"
	"github.com/hitoshi/blogman/internal/user"
)

// --- 統合テスト用のインメモリ認証ストア ---

// memAuthStore はユーザーとセッションを保持する。
// SessionFinder、UserRepository、SessionRepositoryを兼ねる。
type memAuthStore struct {
	mu       sync.Mutex
	users    map[string]*model.User
	sessions map[string]*model.Session
}

func newMemAuthStore() *memAuthStore {
	return &memAuthStore{
		users:    make(map[string]*model.User),
		sessions: make(map[string]*model.Session),
	}
}

// login はユーザーとセッションを登録し、セッションCookieを返す。
func (m *memAuthStore) login(userID string) *http.Cookie {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = &model.User{ID: userID, Email: userID + "@example.com", Name: userID}
	sessionID := "session-" + userID
	m.sessions[sessionID] = &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	return &http.Cookie{Name: "session_id", Value: sessionID}
}

func (m *memAuthStore) FindByID(ctx context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id], nil
}

func (m *memAuthStore) Create(ctx context.Context, session *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
	return nil
}

func (m *memAuthStore) DeleteByID(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memAuthStore) DeleteByUserID(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *memAuthStore) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

// memUsers はUserRepositoryとしてのビュー。
type memUsers struct{ *memAuthStore }

func (m memUsers) FindByID(ctx context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id], nil
}

func (m memUsers) CreateWithIdentity(ctx context.Context, u *model.User, identity *model.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m memUsers) DeleteByID(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}

// --- 統合テスト用ルーター構築ヘルパー ---

type integrationEnv struct {
	router    http.Handler
	store     *repotest.Store
	auth      *memAuthStore
	uploadDir string
}

// newIntegrationEnv は実際のサービス層をインメモリリポジトリで組み立てたルーターを返す。
func newIntegrationEnv(t *testing.T) *integrationEnv {
	t.Helper()

	store := repotest.New()
	authStore := newMemAuthStore()
	uploadDir := t.TempDir()

	assets, err := asset.NewLocalStore(uploadDir, "http://localhost:8080/uploads", 0, 0)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	tagSvc := tag.NewService(store.Tags(), 0, nil)
	postTagSvc := posttag.NewService(store, store.PostTags(), tagSvc)
	postSvc := post.NewService(store, store.Posts(), postTagSvc, assets, nil, 0)
	profileSvc := profile.NewService(store.Profiles())
	userSvc := user.NewService(store, memUsers{authStore}, authStore, postSvc, profileSvc)

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		SessionFinder:     authStore,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		AuthService:       &mockAuthService{},
		AuthConfig:        AuthHandlerConfig{BaseURL: "http://localhost:3000", SessionMaxAge: 86400},
		PostService:       postSvc,
		TagService:        tagSvc,
		ProfileService:    profileSvc,
		Renderer:          render.NewMarkdownRenderer(),
		AssetStore:        assets,
		UploadDir:         uploadDir,
		UserService:       userSvc,
	})

	return &integrationEnv{router: router, store: store, auth: authStore, uploadDir: uploadDir}
}

// do はJSONボディ付きのリクエストを送る。sessionがnilなら匿名。
func (e *integrationEnv) do(t *testing.T, method, target string, session *http.Cookie, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, r)
	if session != nil {
		req.AddCookie(session)
	}
	return serve(e.router, withCSRF(req))
}

func decodeInto[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode %s: %v", w.Body.String(), err)
	}
	return v
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

// --- エンドツーエンド統合テスト ---

// TestIntegration_PostLifecycle は下書き作成 → 公開 → タグ置換 → 削除の流れを検証する。
func TestIntegration_PostLifecycle(t *testing.T) {
	env := newIntegrationEnv(t)
	alice := env.auth.login("alice")
	bob := env.auth.login("bob")

	// 1. 下書きを作成
	w := env.do(t, http.MethodPost, "/api/me/posts", alice, map[string]any{
		"title":     "  First post ",
		"body":      "Hello **world**",
		"tag_names": []string{"Go", "go", "Web Dev"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("step1: status = %d, body = %s", w.Code, w.Body.String())
	}
	created := decodeInto[postResponse](t, w)
	if created.Title != "First post" || created.Status != "draft" {
		t.Errorf("step1: post = %+v", created)
	}
	if len(created.Tags) != 2 {
		t.Errorf("step1: tags = %+v, want 2 (Go, Web Dev)", created.Tags)
	}
	id := created.ID

	// 2. 下書きは他人と匿名には見えない
	for _, session := range []*http.Cookie{nil, bob} {
		if w := env.do(t, http.MethodGet, "/api/posts/"+id, session, nil); w.Code != http.StatusNotFound {
			t.Errorf("step2: draft visible, status = %d", w.Code)
		}
	}
	w = env.do(t, http.MethodGet, "/api/posts/"+id, alice, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("step2: owner status = %d", w.Code)
	}
	detail := decodeInto[postResponse](t, w)
	if detail.BodyHTML == nil || !strings.Contains(*detail.BodyHTML, "<strong>world</strong>") {
		t.Errorf("step2: body_html = %v", detail.BodyHTML)
	}

	// 公開用エンドポイントは所有者でも匿名扱い
	if w := env.do(t, http.MethodGet, "/api/public/posts/"+id, alice, nil); w.Code != http.StatusNotFound {
		t.Errorf("step2: public endpoint showed draft, status = %d", w.Code)
	}

	// 3. 他人は更新できない
	if w := env.do(t, http.MethodPatch, "/api/me/posts/"+id, bob, map[string]any{"status": "published"}); w.Code != http.StatusNotFound {
		t.Errorf("step3: bob update status = %d, want 404", w.Code)
	}

	// 4. 公開してタグを置き換える
	w = env.do(t, http.MethodPatch, "/api/me/posts/"+id, alice, map[string]any{
		"status":    "published",
		"tag_names": []string{"Rust"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("step4: status = %d, body = %s", w.Code, w.Body.String())
	}
	updated := decodeInto[postResponse](t, w)
	if updated.Status != "published" || len(updated.Tags) != 1 || updated.Tags[0].Slug != "rust" {
		t.Errorf("step4: post = %+v", updated)
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Errorf("step4: updated_at did not advance")
	}

	// 5. 公開一覧と投稿のタグに現れる
	w = env.do(t, http.MethodGet, "/api/posts", nil, nil)
	list := decodeInto[[]postResponse](t, w)
	if len(list) != 1 || list[0].ID != id {
		t.Errorf("step5: published = %+v", list)
	}
	w = env.do(t, http.MethodGet, "/api/posts/"+id+"/tags", bob, nil)
	if tags := decodeInto[[]tagResponse](t, w); len(tags) != 1 || tags[0].Name != "Rust" {
		t.Errorf("step5: tags = %+v", tags)
	}

	// 外れたタグは削除されず残る
	if env.store.TagCount("Go") != 1 {
		t.Errorf("step5: tag Go count = %d, want 1", env.store.TagCount("Go"))
	}

	// 6. 件数
	w = env.do(t, http.MethodGet, "/api/me/posts/count", alice, nil)
	if got := decodeInto[map[string]int](t, w); got["count"] != 1 {
		t.Errorf("step6: count = %v", got)
	}

	// 7. 削除すると関連付けも消える
	if w := env.do(t, http.MethodDelete, "/api/me/posts/"+id, alice, nil); w.Code != http.StatusNoContent {
		t.Fatalf("step7: status = %d", w.Code)
	}
	if env.store.AssociationCount(id) != 0 {
		t.Errorf("step7: associations remain")
	}
	if w := env.do(t, http.MethodGet, "/api/posts/"+id, alice, nil); w.Code != http.StatusNotFound {
		t.Errorf("step7: deleted post status = %d", w.Code)
	}
}

// TestIntegration_TagCreationConflicts はタグ作成時の重複とスラッグ衝突を検証する。
func TestIntegration_TagCreationConflicts(t *testing.T) {
	env := newIntegrationEnv(t)
	alice := env.auth.login("alice")

	w := env.do(t, http.MethodPost, "/api/tags", alice, map[string]string{"name": "Go Lang"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	first := decodeInto[tagResponse](t, w)
	if first.Slug != "go-lang" {
		t.Errorf("slug = %q, want go-lang", first.Slug)
	}

	if w := env.do(t, http.MethodPost, "/api/tags", alice, map[string]string{"name": "Go Lang"}); w.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", w.Code)
	}
	w = env.do(t, http.MethodPost, "/api/tags", alice, map[string]string{"name": "go-lang!"})
	if w.Code != http.StatusConflict {
		t.Fatalf("slug conflict status = %d, want 409", w.Code)
	}
	if got := decodeAPIError(t, w); got.Code != model.ErrCodeTagSlugConflict {
		t.Errorf("code = %q, want %q", got.Code, model.ErrCodeTagSlugConflict)
	}

	w = env.do(t, http.MethodPost, "/api/tags/get-or-create", alice, map[string]string{"name": "Go Lang"})
	if w.Code != http.StatusOK {
		t.Fatalf("get-or-create status = %d", w.Code)
	}
	if got := decodeInto[tagResponse](t, w); got.ID != first.ID {
		t.Errorf("get-or-create returned %q, want existing %q", got.ID, first.ID)
	}

	w = env.do(t, http.MethodGet, "/api/tags?q=lang", nil, nil)
	if tags := decodeInto[[]tagResponse](t, w); len(tags) != 1 {
		t.Errorf("search = %+v", tags)
	}
}

// TestIntegration_UploadFeaturedImageAndReclaim はアップロードした画像が
// アイキャッチとして配信され、差し替え時にファイルが削除されることを検証する。
func TestIntegration_UploadFeaturedImageAndReclaim(t *testing.T) {
	env := newIntegrationEnv(t)
	alice := env.auth.login("alice")

	upload := func() uploadResponse {
		req := withCSRF(newMultipartRequest(t, "file", pngBytes(t, 8, 4)))
		req.AddCookie(alice)
		w := serve(env.router, req)
		if w.Code != http.StatusCreated {
			t.Fatalf("upload status = %d, body = %s", w.Code, w.Body.String())
		}
		return decodeInto[uploadResponse](t, w)
	}

	first := upload()
	if first.Width != 8 || first.Height != 4 || first.ContentType != "image/png" {
		t.Errorf("upload = %+v", first)
	}

	// 配信される
	w := serve(env.router, httptest.NewRequest(http.MethodGet, "/uploads/"+first.Path, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("serve status = %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/me/posts", alice, map[string]any{
		"title":          "With image",
		"featured_image": first.URL,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	id := decodeInto[postResponse](t, w).ID

	// 差し替えると以前の画像ファイルは削除される
	second := upload()
	w = env.do(t, http.MethodPatch, "/api/me/posts/"+id, alice, map[string]any{"featured_image": second.URL})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d", w.Code)
	}
	if _, err := os.Stat(filepath.Join(env.uploadDir, first.Path)); !os.IsNotExist(err) {
		t.Errorf("old image should be removed, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.uploadDir, second.Path)); err != nil {
		t.Errorf("new image should remain: %v", err)
	}
}

// TestIntegration_ProfileAndWithdraw はプロフィール作成と退会による全削除を検証する。
func TestIntegration_ProfileAndWithdraw(t *testing.T) {
	env := newIntegrationEnv(t)
	alice := env.auth.login("alice")

	// ensureは名前がなければ作成しない
	w := env.do(t, http.MethodPost, "/api/me/profile/ensure", alice, map[string]any{})
	if body := strings.TrimSpace(w.Body.String()); body != "null" {
		t.Errorf("ensure without name = %s, want null", body)
	}

	w = env.do(t, http.MethodPost, "/api/me/profile/ensure", alice, map[string]any{"name": "Alice"})
	if p := decodeInto[profileResponse](t, w); p.Name == nil || *p.Name != "Alice" {
		t.Errorf("ensure = %+v", p)
	}
	// 既存の名前は上書きしない
	w = env.do(t, http.MethodPost, "/api/me/profile/ensure", alice, map[string]any{"name": "Other"})
	if p := decodeInto[profileResponse](t, w); p.Name == nil || *p.Name != "Alice" {
		t.Errorf("second ensure = %+v", p)
	}

	w = env.do(t, http.MethodPut, "/api/me/profile", alice, map[string]any{"name": nil})
	if p := decodeInto[profileResponse](t, w); p.Name != nil {
		t.Errorf("clear name = %+v", p)
	}

	env.do(t, http.MethodPost, "/api/me/posts", alice, map[string]any{"title": "Bye", "status": "published", "tag_names": []string{"Farewell"}})
	if env.store.PostCount() != 1 {
		t.Fatalf("post count = %d, want 1", env.store.PostCount())
	}

	// 退会
	w = env.do(t, http.MethodDelete, "/api/users/me", alice, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("withdraw status = %d, body = %s", w.Code, w.Body.String())
	}
	if env.store.PostCount() != 0 {
		t.Errorf("posts remain after withdraw")
	}
	if env.store.TagCount("Farewell") != 1 {
		t.Errorf("tags should survive withdraw")
	}
	if body := strings.TrimSpace(env.do(t, http.MethodGet, "/api/profiles/alice", nil, nil).Body.String()); body != "null" {
		t.Errorf("profile after withdraw = %s", body)
	}

	// 古いセッションは無効
	if w := env.do(t, http.MethodGet, "/api/me/posts", alice, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("old session status = %d, want 401", w.Code)
	}
}
