// Package post は投稿の閲覧・作成・更新・削除のドメインロジックを提供する。
//
// 非公開（draft, archived）の投稿は所有者以外には存在しないものとして扱う。
// 投稿の作成・更新・削除とタグの関連付けは1つのトランザクションで行い、
// アイキャッチ画像ファイルの削除はコミット後にベストエフォートで行う。
package post

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hitoshi/blogman/internal/metrics"
	"github.com/hitoshi/blogman/internal/model"
	"github.com/hitoshi/blogman/internal/repository"
)

// DefaultListLimit は一覧取得の最大件数の既定値。
const DefaultListLimit = 200

// TagAssociator は投稿とタグの関連付けを扱う。
type TagAssociator interface {
	Reconcile(ctx context.Context, caller model.Caller, postID string, names []string) ([]model.Tag, error)
	FetchForPost(ctx context.Context, postID string) ([]model.Tag, error)
	FetchForPosts(ctx context.Context, postIDs []string) (map[string][]model.Tag, error)
}

// AssetRemover はアイキャッチ画像ファイルを削除する。
type AssetRemover interface {
	// URLToPath は公開URLを保存先のパスに変換する。管理外のURLの場合はfalseを返す。
	URLToPath(url string) (string, bool)
	Delete(ctx context.Context, path string) error
}

// Service は投稿のサービス層。
type Service struct {
	tx        repository.Transactor
	posts     repository.PostRepository
	tags      TagAssociator
	assets    AssetRemover
	metrics   metrics.MetricsCollector
	listLimit int
}

// NewService はServiceの新しいインスタンスを生成する。
// listLimitが0以下の場合はDefaultListLimitを使用する。assetsとrecorderはnilでもよい。
func NewService(
	tx repository.Transactor,
	posts repository.PostRepository,
	tags TagAssociator,
	assets AssetRemover,
	recorder metrics.MetricsCollector,
	listLimit int,
) *Service {
	if listLimit <= 0 {
		listLimit = DefaultListLimit
	}
	return &Service{
		tx:        tx,
		posts:     posts,
		tags:      tags,
		assets:    assets,
		metrics:   metrics.OrNop(recorder),
		listLimit: listLimit,
	}
}

// Get は投稿を取得する。
// 投稿が存在しない場合、および非公開の投稿を所有者以外が参照した場合はNotFoundを返す。
func (s *Service) Get(ctx context.Context, caller model.Caller, id string) (*model.Post, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewPostNotFoundError(id)
	}

	post, err := s.posts.FindVisible(ctx, id, caller.UserID)
	if err != nil {
		return nil, s.storageFailure("投稿の取得", id, err)
	}
	if post == nil {
		return nil, model.NewPostNotFoundError(id)
	}

	tags, err := s.tags.FetchForPost(ctx, id)
	if err != nil {
		return nil, err
	}
	post.Tags = nonNilTags(tags)
	return post, nil
}

// GetPublic は匿名の呼び出し元として投稿を取得する。公開済みの投稿のみ返す。
func (s *Service) GetPublic(ctx context.Context, id string) (*model.Post, error) {
	return s.Get(ctx, model.Anonymous(), id)
}

// ListPublished は公開済みの投稿を作成日時の降順で返す。
func (s *Service) ListPublished(ctx context.Context, limit int) ([]*model.Post, error) {
	posts, err := s.posts.ListPublished(ctx, s.clampLimit(limit))
	if err != nil {
		slog.Error("公開投稿一覧の取得に失敗しました", "error", err)
		return nil, model.NewStorageFailureError("投稿一覧の取得", err)
	}
	if err := s.attachTags(ctx, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// ListOwned はownerIDの投稿をステータスに関わらず作成日時の降順で返す。
// 呼び出し元自身の投稿のみ一覧できる。
func (s *Service) ListOwned(ctx context.Context, caller model.Caller, ownerID string, limit int) ([]*model.Post, error) {
	if err := authorizeOwner(caller, ownerID); err != nil {
		return nil, err
	}

	posts, err := s.posts.ListByUserID(ctx, ownerID, s.clampLimit(limit))
	if err != nil {
		slog.Error("投稿一覧の取得に失敗しました", "user_id", ownerID, "error", err)
		return nil, model.NewStorageFailureError("投稿一覧の取得", err)
	}
	if err := s.attachTags(ctx, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// CountOwned はownerIDの投稿数を返す。
func (s *Service) CountOwned(ctx context.Context, caller model.Caller, ownerID string) (int, error) {
	if err := authorizeOwner(caller, ownerID); err != nil {
		return 0, err
	}

	n, err := s.posts.CountByUserID(ctx, ownerID)
	if err != nil {
		slog.Error("投稿数の取得に失敗しました", "user_id", ownerID, "error", err)
		return 0, model.NewStorageFailureError("投稿数の取得", err)
	}
	return n, nil
}

// Create は呼び出し元を所有者として投稿を作成する。
// タグ名が指定された場合は同じトランザクション内で関連付ける。
func (s *Service) Create(ctx context.Context, caller model.Caller, in model.NewPost) (*model.Post, error) {
	if !caller.Authenticated() {
		return nil, model.NewAuthRequiredError()
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, model.NewValidationError("title", "タイトルは必須です")
	}
	status := in.Status
	if status == "" {
		status = model.PostStatusDraft
	}
	if !status.Valid() {
		return nil, invalidStatus()
	}

	post := &model.Post{
		Title:         title,
		Body:          in.Body,
		UserID:        caller.UserID,
		Status:        status,
		FeaturedImage: emptyToNil(in.FeaturedImage),
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.posts.Create(ctx, post); err != nil {
			return s.storageFailure("投稿の作成", "", err)
		}
		if len(in.TagNames) == 0 {
			post.Tags = []model.Tag{}
			return nil
		}
		tags, err := s.tags.Reconcile(ctx, caller, post.ID, in.TagNames)
		if err != nil {
			return err
		}
		post.Tags = nonNilTags(tags)
		return nil
	})
	if err != nil {
		return nil, s.txFailure("投稿の作成", "", err)
	}

	s.metrics.RecordPostMutation(metrics.OpCreate)
	slog.Info("投稿を作成しました", "post_id", post.ID, "user_id", caller.UserID, "status", post.Status)
	return post, nil
}

// Update はpatchで指定されたフィールドのみ更新する。updated_atは常に進む。
// TagNamesが指定された場合は空でも関連付けを全置換し、未指定なら変更しない。
// アイキャッチ画像が変わった場合、以前の画像ファイルをコミット後に削除する。
func (s *Service) Update(ctx context.Context, caller model.Caller, id string, patch model.PostPatch) (*model.Post, error) {
	if !caller.Authenticated() {
		return nil, model.NewAuthRequiredError()
	}
	if err := validatePatch(&patch); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewPostNotFoundError(id)
	}

	var (
		updated  *model.Post
		oldImage string
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		post, err := s.lockOwned(ctx, caller, id)
		if err != nil {
			return err
		}

		before := deref(post.FeaturedImage)
		applyPatch(post, patch)

		if err := s.posts.Update(ctx, post); err != nil {
			return s.storageFailure("投稿の更新", id, err)
		}

		var tags []model.Tag
		if patch.TagNames.Set {
			tags, err = s.tags.Reconcile(ctx, caller, id, patch.TagNames.Value)
		} else {
			tags, err = s.tags.FetchForPost(ctx, id)
		}
		if err != nil {
			return err
		}
		post.Tags = nonNilTags(tags)

		if before != "" && before != deref(post.FeaturedImage) {
			oldImage = s.releasable(ctx, id, before)
		}
		updated = post
		return nil
	})
	if err != nil {
		return nil, s.txFailure("投稿の更新", id, err)
	}

	s.metrics.RecordPostMutation(metrics.OpUpdate)
	s.reclaimAsset(ctx, id, oldImage)
	return updated, nil
}

// Delete は投稿を削除する。タグの関連付けはCASCADE削除され、タグ自体は残る。
// アイキャッチ画像ファイルの削除はコミット後に行い、失敗しても呼び出し元には返さない。
func (s *Service) Delete(ctx context.Context, caller model.Caller, id string) error {
	if !caller.Authenticated() {
		return model.NewAuthRequiredError()
	}
	if _, err := uuid.Parse(id); err != nil {
		return model.NewPostNotFoundError(id)
	}

	var image string
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		post, err := s.lockOwned(ctx, caller, id)
		if err != nil {
			return err
		}
		if err := s.posts.Delete(ctx, id); err != nil {
			return s.storageFailure("投稿の削除", id, err)
		}
		image = s.releasable(ctx, id, deref(post.FeaturedImage))
		return nil
	})
	if err != nil {
		return s.txFailure("投稿の削除", id, err)
	}

	s.metrics.RecordPostMutation(metrics.OpDelete)
	slog.Info("投稿を削除しました", "post_id", id, "user_id", caller.UserID)
	s.reclaimAsset(ctx, id, image)
	return nil
}

// DeleteAllOwned は呼び出し元の投稿をすべて削除し、どの投稿からも参照されなくなった
// アイキャッチ画像URLを返す。画像ファイルは削除しないため、
// 呼び出し元のトランザクションのコミット後にReclaimAssetsを呼ぶこと。
func (s *Service) DeleteAllOwned(ctx context.Context, caller model.Caller) ([]string, error) {
	if !caller.Authenticated() {
		return nil, model.NewAuthRequiredError()
	}

	images, err := s.posts.DeleteByUserID(ctx, caller.UserID)
	if err != nil {
		slog.Error("投稿の一括削除に失敗しました", "user_id", caller.UserID, "error", err)
		return nil, model.NewStorageFailureError("投稿の一括削除", err)
	}

	var released []string
	seen := make(map[string]bool, len(images))
	for _, url := range images {
		if seen[url] {
			continue
		}
		seen[url] = true
		if url = s.releasable(ctx, "", url); url != "" {
			released = append(released, url)
		}
	}
	return released, nil
}

// ReclaimAssets は画像ファイルをベストエフォートで削除する。
func (s *Service) ReclaimAssets(ctx context.Context, urls []string) {
	for _, url := range urls {
		s.reclaimAsset(ctx, "", url)
	}
}

// lockOwned は投稿を行ロックして取得し、呼び出し元が所有者であることを確認する。
// 他人の公開済み投稿はUnauthorized、非公開投稿は存在を隠すためNotFoundを返す。
func (s *Service) lockOwned(ctx context.Context, caller model.Caller, id string) (*model.Post, error) {
	post, err := s.posts.FindForUpdate(ctx, id)
	if err != nil {
		return nil, s.storageFailure("投稿の取得", id, err)
	}
	if post == nil {
		return nil, model.NewPostNotFoundError(id)
	}
	if post.UserID != caller.UserID {
		if post.Status == model.PostStatusPublished {
			return nil, model.NewUnauthorizedError("他のユーザーの投稿は変更できません")
		}
		return nil, model.NewPostNotFoundError(id)
	}
	return post, nil
}

func (s *Service) attachTags(ctx context.Context, posts []*model.Post) error {
	if len(posts) == 0 {
		return nil
	}
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	byPost, err := s.tags.FetchForPosts(ctx, ids)
	if err != nil {
		return err
	}
	for _, p := range posts {
		p.Tags = nonNilTags(byPost[p.ID])
	}
	return nil
}

// releasable は画像URLを参照する投稿が残っていなければurlを、残っていれば空文字列を返す。
// 投稿の削除・更新と同じトランザクション内で呼ぶこと。
// featured_imageは任意のURLを指定できるため、他のユーザーの投稿が同じ画像を指していることがある。
// 参照数を確認できない場合は削除しない。未参照のファイルはワーカーが回収する。
func (s *Service) releasable(ctx context.Context, postID, url string) string {
	if url == "" {
		return ""
	}
	n, err := s.posts.CountByFeaturedImage(ctx, url)
	if err != nil {
		slog.Warn("画像の参照数を確認できないため削除を見送ります", "post_id", postID, "url", url, "error", err)
		return ""
	}
	if n > 0 {
		slog.Debug("他の投稿が参照している画像のため削除しません", "post_id", postID, "url", url, "references", n)
		return ""
	}
	return url
}

func (s *Service) reclaimAsset(ctx context.Context, postID, url string) {
	if url == "" || s.assets == nil {
		return
	}
	path, ok := s.assets.URLToPath(url)
	if !ok {
		slog.Debug("管理外の画像URLのため削除しません", "post_id", postID, "url", url)
		return
	}
	// リクエストが切断されても削除は続行する
	if err := s.assets.Delete(context.WithoutCancel(ctx), path); err != nil {
		s.metrics.RecordAssetDeleteFailure()
		slog.Warn("画像ファイルの削除に失敗しました",
			"post_id", postID,
			"path", path,
			"error", err,
		)
	}
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 || limit > s.listLimit {
		return s.listLimit
	}
	return limit
}

func (s *Service) storageFailure(op, postID string, err error) error {
	slog.Error(op+"に失敗しました", "post_id", postID, "error", err)
	return model.NewStorageFailureError(op, err)
}

// txFailure はトランザクションから返ったエラーをAPIErrorに揃える。
// コミットの失敗など、型付けされていないエラーはStorageFailureとして扱う。
func (s *Service) txFailure(op, postID string, err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return s.storageFailure(op, postID, err)
}

func authorizeOwner(caller model.Caller, ownerID string) error {
	if !caller.Authenticated() {
		return model.NewAuthRequiredError()
	}
	if caller.UserID != ownerID {
		return model.NewUnauthorizedError("他のユーザーの投稿一覧は参照できません")
	}
	return nil
}

// validatePatch はpatchを検証し、タイトルの前後の空白を除去する。
func validatePatch(patch *model.PostPatch) error {
	if patch.Title.IsNull() {
		return model.NewValidationError("title", "タイトルにnullは指定できません")
	}
	if patch.Title.Set {
		patch.Title.Value = strings.TrimSpace(patch.Title.Value)
		if patch.Title.Value == "" {
			return model.NewValidationError("title", "タイトルは必須です")
		}
	}
	if patch.Status.IsNull() || (patch.Status.Set && !patch.Status.Value.Valid()) {
		return invalidStatus()
	}
	return nil
}

func applyPatch(post *model.Post, patch model.PostPatch) {
	if patch.Title.Set {
		post.Title = patch.Title.Value
	}
	if patch.Body.Set {
		post.Body = patch.Body.Ptr()
	}
	if patch.Status.Set {
		post.Status = patch.Status.Value
	}
	if patch.FeaturedImage.Set {
		post.FeaturedImage = emptyToNil(patch.FeaturedImage.Ptr())
	}
}

func invalidStatus() error {
	return model.NewValidationError("status", "ステータスはdraft、published、archivedのいずれかを指定してください")
}

func emptyToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonNilTags(tags []model.Tag) []model.Tag {
	if tags == nil {
		return []model.Tag{}
	}
	return tags
}
