// Package tag はタグの検索・作成・削除のドメインロジックを提供する。
package tag

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

// DefaultSearchLimit は検索結果の最大件数の既定値。
const DefaultSearchLimit = 100

// getOrCreateAttempts は競合した行が直後に削除された場合の再試行回数。
const getOrCreateAttempts = 3

// Service はタグのサービス層。
type Service struct {
	tags        repository.TagRepository
	searchLimit int
	metrics     metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
// searchLimitが0以下の場合はDefaultSearchLimitを使用する。recorderはnilでもよい。
func NewService(tags repository.TagRepository, searchLimit int, recorder metrics.MetricsCollector) *Service {
	if searchLimit <= 0 {
		searchLimit = DefaultSearchLimit
	}
	return &Service{
		tags:        tags,
		searchLimit: searchLimit,
		metrics:     metrics.OrNop(recorder),
	}
}

// Search は名前にtermを含むタグを名前の昇順で返す。
// termは加工せずに照合する。空白のみの場合はタグ一覧の先頭から返す。
// 該当なしの場合は空のスライスを返す。
func (s *Service) Search(ctx context.Context, term string) ([]*model.Tag, error) {
	if NormalizeName(term) == "" {
		term = ""
	}
	tags, err := s.tags.Search(ctx, term, s.searchLimit)
	if err != nil {
		slog.Error("タグの検索に失敗しました", "term", term, "error", err)
		return nil, model.NewStorageFailureError("タグの検索", err)
	}
	return tags, nil
}

// ListAll は全タグを名前の昇順で返す。
func (s *Service) ListAll(ctx context.Context) ([]*model.Tag, error) {
	tags, err := s.tags.ListAll(ctx)
	if err != nil {
		slog.Error("タグ一覧の取得に失敗しました", "error", err)
		return nil, model.NewStorageFailureError("タグ一覧の取得", err)
	}
	return tags, nil
}

// Create はタグを作成する。
// 同名のタグ、またはスラッグが衝突するタグが既に存在する場合はDuplicateKeyエラーを返す。
func (s *Service) Create(ctx context.Context, caller model.Caller, name string) (*model.Tag, error) {
	if !caller.Authenticated() {
		return nil, model.NewAuthRequiredError()
	}

	tag, err := newTag(name)
	if err != nil {
		return nil, err
	}

	if err := s.tags.Create(ctx, tag); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateTagName):
			return nil, model.NewDuplicateTagError(tag.Name)
		case errors.Is(err, repository.ErrDuplicateTagSlug):
			return nil, model.NewTagSlugConflictError(tag.Name, tag.Slug)
		}
		slog.Error("タグの作成に失敗しました", "name", tag.Name, "error", err)
		return nil, model.NewStorageFailureError("タグの作成", err)
	}

	s.metrics.RecordTagCreated()
	return tag, nil
}

// GetOrCreate は名前が完全一致するタグを返し、存在しなければ作成する。
//
// 同名タグの同時作成はDBのユニーク制約で1行に収束させる。
// 挿入が競合した場合は他のリクエストが作成した行を名前、スラッグの順で取得し直す。
// スラッグのみが衝突した場合、大文字小文字だけが異なる名前なら既存のタグ（先に登録された表記）を返し、
// それ以外（"C++"と"C"など）はTagSlugConflictエラーを返す。
func (s *Service) GetOrCreate(ctx context.Context, caller model.Caller, name string) (*model.Tag, error) {
	if !caller.Authenticated() {
		return nil, model.NewAuthRequiredError()
	}

	candidate, err := newTag(name)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < getOrCreateAttempts; attempt++ {
		existing, err := s.tags.FindByName(ctx, candidate.Name)
		if err != nil {
			return nil, s.storageFailure("タグの取得", candidate.Name, err)
		}
		if existing != nil {
			return existing, nil
		}

		tag := &model.Tag{Name: candidate.Name, Slug: candidate.Slug}
		inserted, err := s.tags.InsertIfAbsent(ctx, tag)
		if err != nil {
			return nil, s.storageFailure("タグの作成", candidate.Name, err)
		}
		if inserted {
			s.metrics.RecordTagCreated()
			return tag, nil
		}

		// 名前またはスラッグが競合した
		s.metrics.RecordTagConflict()
		existing, err = s.tags.FindByName(ctx, candidate.Name)
		if err != nil {
			return nil, s.storageFailure("タグの取得", candidate.Name, err)
		}
		if existing != nil {
			return existing, nil
		}
		existing, err = s.tags.FindBySlug(ctx, candidate.Slug)
		if err != nil {
			return nil, s.storageFailure("タグの取得", candidate.Name, err)
		}
		if existing != nil {
			if !strings.EqualFold(existing.Name, candidate.Name) {
				return nil, model.NewTagSlugConflictError(candidate.Name, candidate.Slug)
			}
			return existing, nil
		}

		slog.Warn("競合したタグが見つかりません。再試行します",
			"name", candidate.Name,
			"attempt", attempt+1,
		)
	}

	return nil, model.NewStorageFailureError("タグの作成", errors.New("tag conflict did not resolve"))
}

// Delete は指定IDのタグを削除する。関連付けはCASCADE削除される。
func (s *Service) Delete(ctx context.Context, caller model.Caller, id string) error {
	if !caller.Authenticated() {
		return model.NewAuthRequiredError()
	}
	if _, err := uuid.Parse(id); err != nil {
		return model.NewTagNotFoundError(id)
	}

	deleted, err := s.tags.Delete(ctx, id)
	if err != nil {
		slog.Error("タグの削除に失敗しました", "tag_id", id, "error", err)
		return model.NewStorageFailureError("タグの削除", err)
	}
	if !deleted {
		return model.NewTagNotFoundError(id)
	}
	return nil
}

func (s *Service) storageFailure(op, name string, err error) error {
	slog.Error(op+"に失敗しました", "name", name, "error", err)
	return model.NewStorageFailureError(op, err)
}

// newTag は名前を正規化し、スラッグを導出したタグを返す。
func newTag(name string) (*model.Tag, error) {
	name = NormalizeName(name)
	if name == "" {
		return nil, model.NewValidationError("name", "タグ名は必須です")
	}
	slug := Slugify(name)
	if slug == "" {
		return nil, model.NewValidationError("name", "タグ名には英数字を含めてください")
	}
	return &model.Tag{Name: name, Slug: slug}, nil
}
