// Package repotest はテスト用のインメモリリポジトリを提供する。
// ユニーク制約、CASCADE削除、トランザクションのロールバックをPostgreSQLと同じ意味で再現する。
package repotest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/blogman/internal/model"
	"github.com/hitoshi/blogman/internal/repository"
)

type txKey struct{}

// Store はインメモリのデータストア。
// 各リポジトリはStoreの状態を共有し、WithinTxはトランザクションを直列化して
// fnがエラーを返した場合に開始時点の状態へ戻す。
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	posts    map[string]*model.Post
	tags     map[string]*model.Tag
	postTags map[string]map[string]time.Time // post_id -> tag_id -> created_at
	profiles map[string]*model.Profile       // user_id -> profile

	clock    time.Time
	failures map[string]error
}

// New は空のStoreを生成する。
func New() *Store {
	return &Store{
		posts:    make(map[string]*model.Post),
		tags:     make(map[string]*model.Tag),
		postTags: make(map[string]map[string]time.Time),
		profiles: make(map[string]*model.Profile),
		clock:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		failures: make(map[string]error),
	}
}

// FailOn は指定した操作（例: "PostTags.Insert"）が次回以降errを返すように設定する。
// errがnilの場合は設定を解除する。
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Posts はPostRepositoryを返す。
func (s *Store) Posts() repository.PostRepository { return &postRepo{s} }

// Tags はTagRepositoryを返す。
func (s *Store) Tags() repository.TagRepository { return &tagRepo{s} }

// PostTags はPostTagRepositoryを返す。
func (s *Store) PostTags() repository.PostTagRepository { return &postTagRepo{s} }

// Profiles はProfileRepositoryを返す。
func (s *Store) Profiles() repository.ProfileRepository { return &profileRepo{s} }

// WithinTx はfnを直列化して実行し、エラー時は状態を巻き戻す。
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// PostCount は投稿の件数を返す。
func (s *Store) PostCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}

// TagCount は指定名のタグの件数を返す。
func (s *Store) TagCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tags {
		if t.Name == name {
			n++
		}
	}
	return n
}

// AssociationCount は投稿の関連付けの件数を返す。
func (s *Store) AssociationCount(postID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.postTags[postID])
}

type snapshot struct {
	posts    map[string]*model.Post
	tags     map[string]*model.Tag
	postTags map[string]map[string]time.Time
	profiles map[string]*model.Profile
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{
		posts:    make(map[string]*model.Post, len(s.posts)),
		tags:     make(map[string]*model.Tag, len(s.tags)),
		postTags: make(map[string]map[string]time.Time, len(s.postTags)),
		profiles: make(map[string]*model.Profile, len(s.profiles)),
	}
	for k, v := range s.posts {
		snap.posts[k] = copyPost(v)
	}
	for k, v := range s.tags {
		t := *v
		snap.tags[k] = &t
	}
	for k, v := range s.postTags {
		m := make(map[string]time.Time, len(v))
		for tk, tv := range v {
			m[tk] = tv
		}
		snap.postTags[k] = m
	}
	for k, v := range s.profiles {
		p := *v
		snap.profiles[k] = &p
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = snap.posts
	s.tags = snap.tags
	s.postTags = snap.postTags
	s.profiles = snap.profiles
}

// now は呼び出しごとに1マイクロ秒ずつ進む時刻を返す。mu保持中に呼ぶこと。
func (s *Store) now() time.Time {
	s.clock = s.clock.Add(time.Microsecond)
	return s.clock
}

// fail はmu保持中に呼ぶこと。
func (s *Store) fail(op string) error {
	return s.failures[op]
}

func copyPost(p *model.Post) *model.Post {
	c := *p
	c.Tags = nil
	return &c
}

// ---- posts ----

type postRepo struct{ s *Store }

func (r *postRepo) FindVisible(_ context.Context, id, viewerID string) (*model.Post, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Posts.FindVisible"); err != nil {
		return nil, err
	}
	p, ok := r.s.posts[id]
	if !ok {
		return nil, nil
	}
	if !p.VisibleTo(model.AsUser(viewerID)) {
		return nil, nil
	}
	return copyPost(p), nil
}

func (r *postRepo) FindForUpdate(_ context.Context, id string) (*model.Post, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Posts.FindForUpdate"); err != nil {
		return nil, err
	}
	p, ok := r.s.posts[id]
	if !ok {
		return nil, nil
	}
	return copyPost(p), nil
}

func (r *postRepo) ListPublished(_ context.Context, limit int) ([]*model.Post, error) {
	return r.list("Posts.ListPublished", limit, func(p *model.Post) bool {
		return p.Status == model.PostStatusPublished
	})
}

func (r *postRepo) ListByUserID(_ context.Context, userID string, limit int) ([]*model.Post, error) {
	return r.list("Posts.ListByUserID", limit, func(p *model.Post) bool {
		return p.UserID == userID
	})
}

func (r *postRepo) list(op string, limit int, match func(*model.Post) bool) ([]*model.Post, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail(op); err != nil {
		return nil, err
	}
	var posts []*model.Post
	for _, p := range r.s.posts {
		if match(p) {
			posts = append(posts, copyPost(p))
		}
	}
	sort.Slice(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func (r *postRepo) CountByUserID(_ context.Context, userID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Posts.CountByUserID"); err != nil {
		return 0, err
	}
	n := 0
	for _, p := range r.s.posts {
		if p.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *postRepo) Create(_ context.Context, post *model.Post) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Posts.Create"); err != nil {
		return err
	}
	if post.ID == "" {
		post.ID = uuid.New().String()
	}
	if post.Status == "" {
		post.Status = model.PostStatusDraft
	}
	now := r.s.now()
	post.CreatedAt = now
	post.UpdatedAt = now
	r.s.posts[post.ID] = copyPost(post)
	return nil
}

func (r *postRepo) Update(_ context.Context, post *model.Post) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Posts.Update"); err != nil {
		return err
	}
	existing, ok := r.s.posts[post.ID]
	if !ok {
		return errNotFound
	}
	existing.Title = post.Title
	existing.Body = post.Body
	existing.Status = post.Status
	existing.FeaturedImage = post.FeaturedImage
	existing.UpdatedAt = r.s.now()
	post.UpdatedAt = existing.UpdatedAt
	return nil
}

func (r *postRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Posts.Delete"); err != nil {
		return err
	}
	if _, ok := r.s.posts[id]; !ok {
		return errNotFound
	}
	delete(r.s.posts, id)
	delete(r.s.postTags, id)
	return nil
}

func (r *postRepo) DeleteByUserID(_ context.Context, userID string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Posts.DeleteByUserID"); err != nil {
		return nil, err
	}
	var images []string
	for id, p := range r.s.posts {
		if p.UserID != userID {
			continue
		}
		if p.FeaturedImage != nil && *p.FeaturedImage != "" {
			images = append(images, *p.FeaturedImage)
		}
		delete(r.s.posts, id)
		delete(r.s.postTags, id)
	}
	sort.Strings(images)
	return images, nil
}

func (r *postRepo) ListFeaturedImages(_ context.Context) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Posts.ListFeaturedImages"); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var images []string
	for _, p := range r.s.posts {
		if p.FeaturedImage != nil && *p.FeaturedImage != "" && !seen[*p.FeaturedImage] {
			seen[*p.FeaturedImage] = true
			images = append(images, *p.FeaturedImage)
		}
	}
	sort.Strings(images)
	return images, nil
}

func (r *postRepo) CountByFeaturedImage(_ context.Context, url string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Posts.CountByFeaturedImage"); err != nil {
		return 0, err
	}
	n := 0
	for _, p := range r.s.posts {
		if p.FeaturedImage != nil && *p.FeaturedImage == url {
			n++
		}
	}
	return n, nil
}

// ---- tags ----

type tagRepo struct{ s *Store }

func (r *tagRepo) FindByID(_ context.Context, id string) (*model.Tag, error) {
	return r.find("Tags.FindByID", func(t *model.Tag) bool { return t.ID == id })
}

func (r *tagRepo) FindByName(_ context.Context, name string) (*model.Tag, error) {
	return r.find("Tags.FindByName", func(t *model.Tag) bool { return t.Name == name })
}

func (r *tagRepo) FindBySlug(_ context.Context, slug string) (*model.Tag, error) {
	return r.find("Tags.FindBySlug", func(t *model.Tag) bool { return t.Slug == slug })
}

func (r *tagRepo) find(op string, match func(*model.Tag) bool) (*model.Tag, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail(op); err != nil {
		return nil, err
	}
	for _, t := range r.s.tags {
		if match(t) {
			c := *t
			return &c, nil
		}
	}
	return nil, nil
}

func (r *tagRepo) Search(_ context.Context, term string, limit int) ([]*model.Tag, error) {
	term = strings.ToLower(term)
	tags, err := r.sorted("Tags.Search", func(t *model.Tag) bool {
		return strings.Contains(strings.ToLower(t.Name), term)
	})
	if err != nil {
		return nil, err
	}
	if len(tags) > limit {
		tags = tags[:limit]
	}
	return tags, nil
}

func (r *tagRepo) ListAll(_ context.Context) ([]*model.Tag, error) {
	return r.sorted("Tags.ListAll", func(*model.Tag) bool { return true })
}

func (r *tagRepo) sorted(op string, match func(*model.Tag) bool) ([]*model.Tag, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail(op); err != nil {
		return nil, err
	}
	tags := []*model.Tag{}
	for _, t := range r.s.tags {
		if match(t) {
			c := *t
			tags = append(tags, &c)
		}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
	return tags, nil
}

func (r *tagRepo) Create(_ context.Context, tag *model.Tag) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Tags.Create"); err != nil {
		return err
	}
	if err := r.conflict(tag); err != nil {
		return err
	}
	r.insert(tag)
	return nil
}

func (r *tagRepo) InsertIfAbsent(_ context.Context, tag *model.Tag) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Tags.InsertIfAbsent"); err != nil {
		return false, err
	}
	if r.conflict(tag) != nil {
		return false, nil
	}
	r.insert(tag)
	return true, nil
}

// conflict はmu保持中に呼ぶこと。
func (r *tagRepo) conflict(tag *model.Tag) error {
	for _, t := range r.s.tags {
		if t.Name == tag.Name {
			return repository.ErrDuplicateTagName
		}
		if t.Slug == tag.Slug {
			return repository.ErrDuplicateTagSlug
		}
	}
	return nil
}

// insert はmu保持中に呼ぶこと。
func (r *tagRepo) insert(tag *model.Tag) {
	if tag.ID == "" {
		tag.ID = uuid.New().String()
	}
	now := r.s.now()
	tag.CreatedAt = now
	tag.UpdatedAt = now
	c := *tag
	r.s.tags[tag.ID] = &c
}

func (r *tagRepo) Delete(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Tags.Delete"); err != nil {
		return false, err
	}
	if _, ok := r.s.tags[id]; !ok {
		return false, nil
	}
	delete(r.s.tags, id)
	for _, assoc := range r.s.postTags {
		delete(assoc, id)
	}
	return true, nil
}

// ---- posts_tags ----

type postTagRepo struct{ s *Store }

func (r *postTagRepo) DeleteByPostID(_ context.Context, postID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("PostTags.DeleteByPostID"); err != nil {
		return err
	}
	delete(r.s.postTags, postID)
	return nil
}

func (r *postTagRepo) Insert(_ context.Context, postID string, tagIDs []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("PostTags.Insert"); err != nil {
		return err
	}
	if _, ok := r.s.posts[postID]; !ok {
		return errForeignKey
	}
	assoc := r.s.postTags[postID]
	if assoc == nil {
		assoc = make(map[string]time.Time)
		r.s.postTags[postID] = assoc
	}
	for _, id := range tagIDs {
		if _, ok := r.s.tags[id]; !ok {
			return errForeignKey
		}
		if _, ok := assoc[id]; !ok {
			assoc[id] = r.s.now()
		}
	}
	return nil
}

func (r *postTagRepo) ListTagsByPostID(_ context.Context, postID string) ([]model.Tag, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("PostTags.ListTagsByPostID"); err != nil {
		return nil, err
	}
	return r.tagsOf(postID), nil
}

func (r *postTagRepo) ListTagsByPostIDs(_ context.Context, postIDs []string) (map[string][]model.Tag, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("PostTags.ListTagsByPostIDs"); err != nil {
		return nil, err
	}
	result := make(map[string][]model.Tag, len(postIDs))
	for _, id := range postIDs {
		if tags := r.tagsOf(id); len(tags) > 0 {
			result[id] = tags
		}
	}
	return result, nil
}

// tagsOf はmu保持中に呼ぶこと。
func (r *postTagRepo) tagsOf(postID string) []model.Tag {
	tags := []model.Tag{}
	for tagID := range r.s.postTags[postID] {
		if t, ok := r.s.tags[tagID]; ok {
			tags = append(tags, *t)
		}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
	return tags
}

// ---- profiles ----

type profileRepo struct{ s *Store }

func (r *profileRepo) FindByUserID(_ context.Context, userID string) (*model.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Profiles.FindByUserID"); err != nil {
		return nil, err
	}
	p, ok := r.s.profiles[userID]
	if !ok {
		return nil, nil
	}
	c := *p
	return &c, nil
}

func (r *profileRepo) Upsert(_ context.Context, userID string, name model.Optional[string]) (*model.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Profiles.Upsert"); err != nil {
		return nil, err
	}
	now := r.s.now()
	p, ok := r.s.profiles[userID]
	if !ok {
		p = &model.Profile{ID: uuid.New().String(), UserID: userID, Name: name.Ptr(), CreatedAt: now}
		r.s.profiles[userID] = p
	} else if name.Set {
		p.Name = name.Ptr()
	}
	p.UpdatedAt = now
	c := *p
	return &c, nil
}

func (r *profileRepo) InsertIfAbsent(_ context.Context, userID, name string) (*model.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Profiles.InsertIfAbsent"); err != nil {
		return nil, err
	}
	p, ok := r.s.profiles[userID]
	if !ok {
		now := r.s.now()
		n := name
		p = &model.Profile{ID: uuid.New().String(), UserID: userID, Name: &n, CreatedAt: now, UpdatedAt: now}
		r.s.profiles[userID] = p
	}
	c := *p
	return &c, nil
}

func (r *profileRepo) DeleteByUserID(_ context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Profiles.DeleteByUserID"); err != nil {
		return err
	}
	delete(r.s.profiles, userID)
	return nil
}

// compile-time interface check
var (
	_ repository.Transactor        = (*Store)(nil)
	_ repository.PostRepository    = (*postRepo)(nil)
	_ repository.TagRepository     = (*tagRepo)(nil)
	_ repository.PostTagRepository = (*postTagRepo)(nil)
	_ repository.ProfileRepository = (*profileRepo)(nil)
)
