package handler

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
)

const (
	sessionCookieName = "session_id"

	// oauthStateCookie はログイン開始からコールバックまでの間だけ使う。
	oauthStateCookie = "oauth_state"
	oauthStatePath   = "/auth/google"
	oauthStateMaxAge = 10 * 60
	oauthStateBytes  = 24
)

// cookieJar はセッションとOAuth stateのCookieを書き込む。
// どちらもHttpOnly、SameSite=Laxで、Secureは設定に従う。
type cookieJar struct {
	domain string
	secure bool
}

func newCookieJar(config AuthHandlerConfig) cookieJar {
	return cookieJar{domain: config.CookieDomain, secure: config.CookieSecure}
}

func (j cookieJar) write(w http.ResponseWriter, c *http.Cookie) {
	c.HttpOnly = true
	c.Secure = j.secure
	c.SameSite = http.SameSiteLaxMode
	http.SetCookie(w, c)
}

func (j cookieJar) setSession(w http.ResponseWriter, sessionID string, maxAge int) {
	j.write(w, &http.Cookie{Name: sessionCookieName, Value: sessionID, Path: "/", Domain: j.domain, MaxAge: maxAge})
}

func (j cookieJar) clearSession(w http.ResponseWriter) {
	j.write(w, &http.Cookie{Name: sessionCookieName, Path: "/", Domain: j.domain, MaxAge: -1})
}

// stateはコールバックを受けるホスト自身のCookieなのでDomainを付けない。
func (j cookieJar) setState(w http.ResponseWriter, state string) {
	j.write(w, &http.Cookie{Name: oauthStateCookie, Value: state, Path: oauthStatePath, MaxAge: oauthStateMaxAge})
}

func (j cookieJar) clearState(w http.ResponseWriter) {
	j.write(w, &http.Cookie{Name: oauthStateCookie, Path: oauthStatePath, MaxAge: -1})
}

func newOAuthState() (string, error) {
	b := make([]byte, oauthStateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
