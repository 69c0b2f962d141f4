// Package auth はGoogleログインとセッションの発行・検証を提供する。
//
// ログインしたユーザーには、IdPから表示名が得られればプロフィールを作成する。
// プロフィールの作成に失敗してもログイン自体は成功させる。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/blogman/internal/model"
	"github.com/hitoshi/blogman/internal/repository"
)

// DefaultSessionMaxAge はセッション有効期間（秒）の既定値。
const DefaultSessionMaxAge = 24 * 60 * 60

// sessionIDBytes はセッションIDの乱数バイト数。hexで64文字になる。
const sessionIDBytes = 32

var (
	// ErrSessionRequired はセッションIDが空の場合に返す。
	ErrSessionRequired = errors.New("session ID is required")
	// ErrSessionNotFound はセッションが存在しないか期限切れの場合に返す。
	ErrSessionNotFound = errors.New("session not found or expired")
	// ErrIncompleteUserInfo はIdPのユーザー情報に識別子がない場合に返す。
	ErrIncompleteUserInfo = errors.New("identity provider returned no user identifier")
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Provider       string
}

// OAuthProvider はOAuth認証プロバイダー。
type OAuthProvider interface {
	GetLoginURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ProfileEnsurer はログイン時にプロフィールを遅延作成する。
type ProfileEnsurer interface {
	Ensure(ctx context.Context, caller model.Caller, userID string, name model.Optional[string]) (*model.Profile, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// SessionMaxAge はセッション有効期間（秒）。0以下ならDefaultSessionMaxAge。
	SessionMaxAge int
	// Logger がnilの場合はslog.Default()を使う。
	Logger *slog.Logger
}

// Service はログインとセッションのサービス層。
type Service struct {
	oauth    OAuthProvider
	users    repository.UserRepository
	idents   repository.IdentityRepository
	sessions repository.SessionRepository
	profiles ProfileEnsurer

	sessionTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewService はServiceを生成する。profilesはnilでもよい。
func NewService(
	oauth OAuthProvider,
	users repository.UserRepository,
	idents repository.IdentityRepository,
	sessions repository.SessionRepository,
	profiles ProfileEnsurer,
	config ServiceConfig,
) *Service {
	maxAge := config.SessionMaxAge
	if maxAge <= 0 {
		maxAge = DefaultSessionMaxAge
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		oauth:      oauth,
		users:      users,
		idents:     idents,
		sessions:   sessions,
		profiles:   profiles,
		sessionTTL: time.Duration(maxAge) * time.Second,
		logger:     logger,
		now:        time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback は認可コードを検証し、新しいセッションを発行する。
// 初回ログインではユーザーとIdPの紐付けを1トランザクションで作成する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}
	if info == nil || info.ProviderUserID == "" {
		return nil, ErrIncompleteUserInfo
	}

	userID, err := s.resolveUser(ctx, info)
	if err != nil {
		return nil, err
	}

	s.ensureProfile(ctx, userID, info.Name)

	session, err := s.issueSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// resolveUser はIdPの識別子に紐づくユーザーIDを返す。未登録なら作成する。
func (s *Service) resolveUser(ctx context.Context, info *OAuthUserInfo) (string, error) {
	identity, err := s.idents.FindByProviderAndProviderUserID(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return "", fmt.Errorf("failed to find identity: %w", err)
	}
	if identity != nil {
		s.logger.Info("user logged in",
			slog.String("user_id", identity.UserID),
			slog.String("provider", info.Provider),
		)
		return identity.UserID, nil
	}

	now := s.now()
	user := &model.User{
		ID:        uuid.New().String(),
		Email:     info.Email,
		Name:      info.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	link := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      now,
	}
	if err := s.users.CreateWithIdentity(ctx, user, link); err != nil {
		return "", fmt.Errorf("failed to create user and identity: %w", err)
	}

	s.logger.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("provider", info.Provider),
	)
	return user.ID, nil
}

// Logout はセッションを破棄する。存在しないセッションでもエラーにしない。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrSessionRequired
	}
	if err := s.sessions.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.logger.Info("user logged out")
	return nil
}

// GetCurrentUser はセッションの所有ユーザーを返す。
// セッションが無効な場合、およびユーザーが退会済みの場合はErrSessionNotFoundを返す。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, ErrSessionRequired
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, ErrSessionNotFound
	}
	return user, nil
}

// PurgeExpiredSessions は期限切れのセッションを削除し、削除件数を返す。
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	n, err := s.sessions.DeleteExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return n, nil
}

func (s *Service) ensureProfile(ctx context.Context, userID, name string) {
	if s.profiles == nil {
		return
	}
	var opt model.Optional[string]
	if name != "" {
		opt = model.Some(name)
	}
	if _, err := s.profiles.Ensure(ctx, model.AsUser(userID), userID, opt); err != nil {
		s.logger.Warn("failed to ensure profile",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) issueSession(ctx context.Context, userID string) (*model.Session, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        id,
		UserID:    userID,
		ExpiresAt: now.Add(s.sessionTTL),
		CreatedAt: now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

// newSessionID は暗号論的乱数からセッションIDを生成する。
func newSessionID() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
