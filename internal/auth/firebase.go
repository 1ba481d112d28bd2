package auth

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/hitoshi/ulib/internal/model"
)

const (
	defaultCertsURL           = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"
	defaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com/v1"
	defaultKeyCacheTTL        = time.Hour
	firebaseIssuerPrefix      = "https://securetoken.google.com/"
	tokenLeeway               = 30 * time.Second
)

// identityToolkitScopes はアカウント削除APIの呼び出しに必要なOAuth2スコープ。
var identityToolkitScopes = []string{
	"https://www.googleapis.com/auth/identitytoolkit",
	"https://www.googleapis.com/auth/cloud-platform",
}

var (
	// ErrInvalidToken はトークンが不正・期限切れ・改ざんされている場合に返される。
	ErrInvalidToken = errors.New("invalid ID token")

	// ErrAccountDeletionUnavailable はサービスアカウントの認証情報がなくアカウントを削除できない場合に返される。
	ErrAccountDeletionUnavailable = errors.New("identity provider credentials are not configured")
)

// FirebaseConfig はFirebase Authenticationプロバイダーの設定。
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string        // サービスアカウントJSONのパス。空の場合はApplication Default Credentialsを試す
	KeyCacheTTL     time.Duration // 公開鍵キャッシュの有効期間

	// テスト用にオーバーライド可能な値
	CertsURL           string
	IdentityToolkitURL string
	HTTPClient         *http.Client // 公開鍵の取得に使う
	AdminClient        *http.Client // アカウント削除に使う認可済みクライアント
}

// FirebaseProvider はFirebase AuthenticationのIDトークン検証とアカウント削除を提供する。
// IDトークンはRS256で署名され、Googleが公開するX.509証明書で検証する。
type FirebaseProvider struct {
	config      FirebaseConfig
	httpClient  *http.Client
	adminClient *http.Client
	now         func() time.Time

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	keysUntil time.Time
}

// NewFirebaseProvider はFirebaseProviderを生成する。
// 認証情報が見つからない場合もトークン検証は可能で、アカウント削除のみが失敗する。
func NewFirebaseProvider(ctx context.Context, config FirebaseConfig) (*FirebaseProvider, error) {
	if config.ProjectID == "" {
		return nil, fmt.Errorf("firebase project ID is required")
	}
	if config.CertsURL == "" {
		config.CertsURL = defaultCertsURL
	}
	if config.IdentityToolkitURL == "" {
		config.IdentityToolkitURL = defaultIdentityToolkitURL
	}
	if config.KeyCacheTTL <= 0 {
		config.KeyCacheTTL = defaultKeyCacheTTL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	adminClient := config.AdminClient
	if adminClient == nil {
		client, err := newAdminClient(ctx, config.CredentialsFile)
		if err != nil {
			if config.CredentialsFile != "" {
				return nil, err
			}
			slog.Warn("identity provider admin credentials unavailable; account deletion disabled",
				slog.String("error", err.Error()),
			)
		}
		adminClient = client
	}

	return &FirebaseProvider{
		config:      config,
		httpClient:  httpClient,
		adminClient: adminClient,
		now:         time.Now,
	}, nil
}

// newAdminClient はサービスアカウントの認証情報からOAuth2認可済みHTTPクライアントを生成する。
func newAdminClient(ctx context.Context, credentialsFile string) (*http.Client, error) {
	var creds *google.Credentials
	if credentialsFile != "" {
		data, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		creds, err = google.CredentialsFromJSON(ctx, data, identityToolkitScopes...)
		if err != nil {
			return nil, fmt.Errorf("failed to parse credentials file: %w", err)
		}
	} else {
		var err error
		creds, err = google.FindDefaultCredentials(ctx, identityToolkitScopes...)
		if err != nil {
			return nil, fmt.Errorf("failed to find default credentials: %w", err)
		}
	}
	return oauth2.NewClient(ctx, creds.TokenSource), nil
}

// VerifyToken はIDトークンの署名とクレームを検証し、外部アイデンティティを返す。
// 検証に失敗した場合はErrInvalidTokenをラップしたエラーを返す。
func (p *FirebaseProvider) VerifyToken(ctx context.Context, rawToken string) (*model.Identity, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims,
		func(t *jwt.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, fmt.Errorf("missing kid header")
			}
			return p.publicKey(ctx, kid)
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(firebaseIssuerPrefix+p.config.ProjectID),
		jwt.WithAudience(p.config.ProjectID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(tokenLeeway),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" || len(sub) > 128 {
		return nil, fmt.Errorf("%w: invalid subject", ErrInvalidToken)
	}

	email, _ := claims["email"].(string)
	verified, _ := claims["email_verified"].(bool)

	return &model.Identity{
		UID:           sub,
		Email:         email,
		EmailVerified: verified,
		Claims:        claims,
	}, nil
}

// publicKey はkidに対応する公開鍵を返す。
// キャッシュが期限切れか未知のkidの場合は証明書を取得し直す。
func (p *FirebaseProvider) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	p.mu.RLock()
	key, ok := p.keys[kid]
	fresh := p.now().Before(p.keysUntil)
	p.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}

	if err := p.refreshKeys(ctx); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	key, ok = p.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return key, nil
}

// refreshKeys は公開証明書を取得してキャッシュを更新する。
func (p *FirebaseProvider) refreshKeys(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.CertsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create certs request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("certs request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("certs fetch failed with status %d", resp.StatusCode)
	}

	var certs map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&certs); err != nil {
		return fmt.Errorf("failed to parse certs response: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(certs))
	for kid, pemCert := range certs {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemCert))
		if err != nil {
			slog.Warn("skipping unparsable identity provider certificate",
				slog.String("kid", kid),
				slog.String("error", err.Error()),
			)
			continue
		}
		keys[kid] = key
	}
	if len(keys) == 0 {
		return fmt.Errorf("no usable certificates in certs response")
	}

	p.mu.Lock()
	p.keys = keys
	p.keysUntil = p.now().Add(p.config.KeyCacheTTL)
	p.mu.Unlock()

	return nil
}

// DeleteAccount はIdP上のアカウントを削除する。
// アカウントが既に存在しない場合は成功として扱う。
func (p *FirebaseProvider) DeleteAccount(ctx context.Context, uid string) error {
	if p.adminClient == nil {
		return ErrAccountDeletionUnavailable
	}

	body, err := json.Marshal(map[string]string{"localId": uid})
	if err != nil {
		return fmt.Errorf("failed to encode delete request: %w", err)
	}

	url := fmt.Sprintf("%s/projects/%s/accounts:delete", p.config.IdentityToolkitURL, p.config.ProjectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create delete request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.adminClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete account request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("failed to read delete response: %w", err)
	}

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp.StatusCode == http.StatusBadRequest && strings.Contains(string(respBody), "USER_NOT_FOUND") {
		slog.Info("identity provider account already deleted", slog.String("uid", uid))
		return nil
	}
	return fmt.Errorf("delete account failed with status %d: %s", resp.StatusCode, string(respBody))
}

// compile-time interface check
var _ IdentityProvider = (*FirebaseProvider)(nil)
