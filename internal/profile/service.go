// Package profile はユーザーの公開プロフィールを管理する。
// プロフィールは表示名が判明した時点で遅延作成する。
package profile

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hitoshi/blogman/internal/model"
	"github.com/hitoshi/blogman/internal/repository"
)

// Service はプロフィールのサービス層。
type Service struct {
	profiles repository.ProfileRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(profiles repository.ProfileRepository) *Service {
	return &Service{profiles: profiles}
}

// Get はユーザーのプロフィールを返す。存在しない場合はnilを返し、エラーにはしない。
func (s *Service) Get(ctx context.Context, userID string) (*model.Profile, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, nil
	}

	p, err := s.profiles.FindByUserID(ctx, userID)
	if err != nil {
		return nil, s.storageFailure("プロフィールの取得", userID, err)
	}
	return p, nil
}

// Upsert はプロフィールを作成または更新する。
// nameが未指定の場合、既存の名前は変更しない（新規作成時はNULL）。
// nullまたは空白のみの名前はNULLとして保存する。
func (s *Service) Upsert(ctx context.Context, caller model.Caller, userID string, name model.Optional[string]) (*model.Profile, error) {
	if err := authorize(caller, userID); err != nil {
		return nil, err
	}

	p, err := s.profiles.Upsert(ctx, userID, normalizeName(name))
	if err != nil {
		return nil, s.storageFailure("プロフィールの保存", userID, err)
	}
	return p, nil
}

// Ensure は既存のプロフィールを返す。
// 存在しない場合は名前が指定されていれば作成し、指定がなければ作成せずnilを返す。
func (s *Service) Ensure(ctx context.Context, caller model.Caller, userID string, name model.Optional[string]) (*model.Profile, error) {
	if err := authorize(caller, userID); err != nil {
		return nil, err
	}

	existing, err := s.profiles.FindByUserID(ctx, userID)
	if err != nil {
		return nil, s.storageFailure("プロフィールの取得", userID, err)
	}
	if existing != nil {
		return existing, nil
	}

	name = normalizeName(name)
	if !name.Valid {
		return nil, nil
	}

	p, err := s.profiles.InsertIfAbsent(ctx, userID, name.Value)
	if err != nil {
		return nil, s.storageFailure("プロフィールの作成", userID, err)
	}
	slog.Info("プロフィールを作成しました", "user_id", userID)
	return p, nil
}

// Delete はユーザーのプロフィールを削除する。退会処理から呼ばれる。
func (s *Service) Delete(ctx context.Context, caller model.Caller) error {
	if !caller.Authenticated() {
		return model.NewAuthRequiredError()
	}
	if err := s.profiles.DeleteByUserID(ctx, caller.UserID); err != nil {
		return s.storageFailure("プロフィールの削除", caller.UserID, err)
	}
	return nil
}

func (s *Service) storageFailure(op, userID string, err error) error {
	slog.Error(op+"に失敗しました", "user_id", userID, "error", err)
	return model.NewStorageFailureError(op, err)
}

func authorize(caller model.Caller, userID string) error {
	if !caller.Authenticated() {
		return model.NewAuthRequiredError()
	}
	if caller.UserID != userID {
		return model.NewUnauthorizedError("他のユーザーのプロフィールは変更できません")
	}
	return nil
}

// normalizeName は名前の前後の空白を除去し、空になった場合はnull指定に変える。
func normalizeName(name model.Optional[string]) model.Optional[string] {
	if !name.Valid {
		return name
	}
	v := strings.TrimSpace(name.Value)
	if v == "" {
		return model.Null[string]()
	}
	return model.Some(v)
}
