// Package user はアカウントの退会を扱う。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/blogman/internal/model"
	"github.com/hitoshi/blogman/internal/repository"
)

// PostDeleter は退会ユーザーの投稿を削除し、使われなくなった画像を回収する。
type PostDeleter interface {
	DeleteAllOwned(ctx context.Context, caller model.Caller) ([]string, error)
	ReclaimAssets(ctx context.Context, urls []string)
}

type ProfileDeleter interface {
	Delete(ctx context.Context, caller model.Caller) error
}

// Service は退会処理を1つのトランザクションにまとめる。
// postsとprofilesがnilの場合、その段階は飛ばす。
type Service struct {
	tx       repository.Transactor
	users    repository.UserRepository
	sessions repository.SessionRepository
	posts    PostDeleter
	profiles ProfileDeleter
}

func NewService(
	tx repository.Transactor,
	users repository.UserRepository,
	sessions repository.SessionRepository,
	posts PostDeleter,
	profiles ProfileDeleter,
) *Service {
	return &Service{tx: tx, users: users, sessions: sessions, posts: posts, profiles: profiles}
}

// withdrawStep は退会処理の1段階。
type withdrawStep struct {
	what string
	run  func(ctx context.Context) error
}

// Withdraw はユーザーと、そのユーザーが所有するデータを削除する。
// 投稿（posts_tagsはCASCADE）、プロフィール、セッション、ユーザー（identitiesはCASCADE）の順。
// タグは共有データのため残す。画像ファイルはコミット後に回収する。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("退会対象のユーザーを取得できません: %w", err)
	}
	if u == nil {
		return model.NewUserNotFoundError()
	}

	caller := model.AsUser(userID)
	var orphaned []string

	var steps []withdrawStep
	if s.posts != nil {
		steps = append(steps, withdrawStep{"投稿", func(ctx context.Context) error {
			urls, err := s.posts.DeleteAllOwned(ctx, caller)
			orphaned = urls
			return err
		}})
	}
	if s.profiles != nil {
		steps = append(steps, withdrawStep{"プロフィール", func(ctx context.Context) error {
			return s.profiles.Delete(ctx, caller)
		}})
	}
	if s.sessions != nil {
		steps = append(steps, withdrawStep{"セッション", func(ctx context.Context) error {
			return s.sessions.DeleteByUserID(ctx, userID)
		}})
	}
	steps = append(steps, withdrawStep{"ユーザー", func(ctx context.Context) error {
		return s.users.DeleteByID(ctx, userID)
	}})

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		for _, st := range steps {
			if err := st.run(ctx); err != nil {
				return fmt.Errorf("%sの削除に失敗しました: %w", st.what, err)
			}
		}
		return nil
	})
	if err != nil {
		slog.WarnContext(ctx, "withdrawal rolled back", slog.String("user_id", userID), slog.String("error", err.Error()))
		return err
	}

	if len(orphaned) > 0 {
		s.posts.ReclaimAssets(ctx, orphaned)
	}
	slog.InfoContext(ctx, "user withdrawn",
		slog.String("user_id", userID),
		slog.Int("reclaimed_images", len(orphaned)),
	)
	return nil
}
