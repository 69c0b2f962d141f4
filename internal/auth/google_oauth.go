package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	googleProvider           = "google"
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
	defaultOAuthTimeout      = 10 * time.Second

	// maxOAuthResponseBytes はIdPのレスポンスとして読み込む上限。
	maxOAuthResponseBytes = 1 << 20
)

// ErrUnverifiedEmail はGoogleアカウントのメールアドレスが未確認の場合に返す。
var ErrUnverifiedEmail = errors.New("google account email is not verified")

// OAuthError はIdPのエンドポイントが200以外を返したことを表す。
type OAuthError struct {
	Endpoint string // "token" または "userinfo"
	Status   int
	Body     string
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("google %s endpoint returned status %d: %s", e.Endpoint, e.Status, e.Body)
}

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テストでモックサーバーに差し替える
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	HTTPClient *http.Client
}

// GoogleOAuthProvider はGoogleのOAuth 2.0認可コードフローでログインする。
type GoogleOAuthProvider struct {
	config GoogleOAuthConfig
	client *http.Client
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
// 未指定のエンドポイントはGoogleの本番URLを使う。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	config.AuthURL = orDefault(config.AuthURL, defaultGoogleAuthURL)
	config.TokenURL = orDefault(config.TokenURL, defaultGoogleTokenURL)
	config.UserInfoURL = orDefault(config.UserInfoURL, defaultGoogleUserInfoURL)

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultOAuthTimeout}
	}
	return &GoogleOAuthProvider{config: config, client: client}
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// GetLoginURL は同意画面のURLを返す。
// リフレッシュトークンは使わないためオンラインアクセスのみ要求する。
func (p *GoogleOAuthProvider) GetLoginURL(state string) string {
	q := url.Values{}
	q.Set("client_id", p.config.ClientID)
	q.Set("redirect_uri", p.config.RedirectURL)
	q.Set("response_type", "code")
	q.Set("scope", "openid email profile")
	q.Set("state", state)
	q.Set("prompt", "select_account")
	return p.config.AuthURL + "?" + q.Encode()
}

// ExchangeCode は認可コードをアクセストークンに交換し、ユーザー情報を取得する。
func (p *GoogleOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", p.config.ClientID)
	form.Set("client_secret", p.config.ClientSecret)
	form.Set("redirect_uri", p.config.RedirectURL)
	form.Set("grant_type", "authorization_code")

	tokenReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	tokenReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := p.doJSON(tokenReq, "token", &token); err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, errors.New("google token response has no access_token")
	}

	infoReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}
	infoReq.Header.Set("Authorization", "Bearer "+token.AccessToken)

	var info struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified *bool  `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := p.doJSON(infoReq, "userinfo", &info); err != nil {
		return nil, err
	}
	if info.Sub == "" {
		return nil, ErrIncompleteUserInfo
	}
	// email_verifiedを返さない場合は確認済みとみなす
	if info.EmailVerified != nil && !*info.EmailVerified {
		return nil, ErrUnverifiedEmail
	}

	return &OAuthUserInfo{
		ProviderUserID: info.Sub,
		Email:          info.Email,
		Name:           strings.TrimSpace(info.Name),
		Provider:       googleProvider,
	}, nil
}

// doJSON はリクエストを送り、200のJSONレスポンスをvにデコードする。
func (p *GoogleOAuthProvider) doJSON(req *http.Request, endpoint string, v any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("google %s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOAuthResponseBytes))
	if err != nil {
		return fmt.Errorf("read google %s response: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return &OAuthError{Endpoint: endpoint, Status: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("parse google %s response: %w", endpoint, err)
	}
	return nil
}

var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
