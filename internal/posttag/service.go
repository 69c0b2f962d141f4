// Package posttag は投稿とタグの関連付けを管理する。
package posttag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hitoshi/blogman/internal/model"
	"github.com/hitoshi/blogman/internal/repository"
	"github.com/hitoshi/blogman/internal/tag"
)

// TagResolver はタグ名からタグを取得または作成する。
type TagResolver interface {
	GetOrCreate(ctx context.Context, caller model.Caller, name string) (*model.Tag, error)
}

// Service は投稿とタグの関連付けのサービス層。
// 権限チェックは呼び出し元（投稿の操作）で済ませている前提。
type Service struct {
	tx       repository.Transactor
	postTags repository.PostTagRepository
	tags     TagResolver
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(tx repository.Transactor, postTags repository.PostTagRepository, tags TagResolver) *Service {
	return &Service{tx: tx, postTags: postTags, tags: tags}
}

// Reconcile は投稿のタグをnamesで全置換し、置換後のタグを名前の昇順で返す。
//
// 各名前の前後の空白を除去し、空の名前は無視する。スラッグが同じ名前は最初の表記にまとめる。
// 名前を取得または作成した後、既存の関連付けをすべて削除して重複を除いたタグを関連付け直す。
// 一連の処理は1つのトランザクションで行うため、途中の状態は他から見えない。
// namesが空の場合は関連付けをすべて削除する。
func (s *Service) Reconcile(ctx context.Context, caller model.Caller, postID string, names []string) ([]model.Tag, error) {
	var result []model.Tag
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		normalized, err := normalizeNames(names)
		if err != nil {
			return err
		}

		tagIDs := make([]string, 0, len(normalized))
		seen := make(map[string]bool, len(normalized))
		for _, name := range normalized {
			t, err := s.tags.GetOrCreate(ctx, caller, name)
			if err != nil {
				return err
			}
			if seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			tagIDs = append(tagIDs, t.ID)
		}

		if err := s.postTags.DeleteByPostID(ctx, postID); err != nil {
			return s.storageFailure("関連付けの削除", postID, err)
		}
		if err := s.postTags.Insert(ctx, postID, tagIDs); err != nil {
			return s.storageFailure("関連付けの作成", postID, err)
		}

		tags, err := s.postTags.ListTagsByPostID(ctx, postID)
		if err != nil {
			return s.storageFailure("投稿のタグ取得", postID, err)
		}
		result = tags
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FetchForPost は投稿に関連付けられたタグを名前の昇順で返す。
func (s *Service) FetchForPost(ctx context.Context, postID string) ([]model.Tag, error) {
	tags, err := s.postTags.ListTagsByPostID(ctx, postID)
	if err != nil {
		return nil, s.storageFailure("投稿のタグ取得", postID, err)
	}
	return tags, nil
}

// FetchForPosts は複数投稿のタグを1回の問い合わせで取得し、投稿IDごとに返す。
func (s *Service) FetchForPosts(ctx context.Context, postIDs []string) (map[string][]model.Tag, error) {
	tags, err := s.postTags.ListTagsByPostIDs(ctx, postIDs)
	if err != nil {
		slog.Error("投稿のタグ一括取得に失敗しました", "post_count", len(postIDs), "error", err)
		return nil, model.NewStorageFailureError("投稿のタグ取得", err)
	}
	return tags, nil
}

func (s *Service) storageFailure(op, postID string, err error) error {
	slog.Error(op+"に失敗しました", "post_id", postID, "error", err)
	return model.NewStorageFailureError(op, err)
}

// normalizeNames は名前を正規化し、空の名前を除いてスラッグ単位で重複を除く。
// 同じスラッグになる名前は最初に現れた表記を残す。
// 結果はスラッグの昇順に並べ、同時に保存される投稿間でユニークインデックスの
// ロック取得順を揃える。
func normalizeNames(names []string) ([]string, error) {
	bySlug := make(map[string]string, len(names))
	slugs := make([]string, 0, len(names))
	for _, name := range names {
		name = tag.NormalizeName(name)
		if name == "" {
			continue
		}
		slug := tag.Slugify(name)
		if slug == "" {
			return nil, model.NewValidationError("tag_names", fmt.Sprintf("タグ名「%s」には英数字を含めてください", name))
		}
		if _, ok := bySlug[slug]; ok {
			continue
		}
		bySlug[slug] = name
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	out := make([]string, len(slugs))
	for i, slug := range slugs {
		out[i] = bySlug[slug]
	}
	return out, nil
}
