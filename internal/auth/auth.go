// Package auth implements the per-account authentication state machine
// against the upstream profile service: validate the cached
// access token, fall back to refresh, and finally to a full login.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/mineskin-ng/skingen/internal/catalog"
	"github.com/mineskin-ng/skingen/internal/errs"
	"github.com/mineskin-ng/skingen/internal/limiter"
	"github.com/mineskin-ng/skingen/internal/model"
	"github.com/mineskin-ng/skingen/internal/secretcodec"
)

const userAgent = "MineSkin.org"

// AuthenticationError wraps an upstream rejection of the login path,
// carrying the upstream error body for diagnostics.
type AuthenticationError struct {
	Step string
	Body string
	Err  error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v: %s", e.Step, e.Err, e.Body)
	}
	return fmt.Sprintf("auth: %s: %s", e.Step, e.Body)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// Engine drives the {EMPTY, HAS_REFRESH, HAS_ACCESS, VALID} state machine
// and persists the resulting token/clientToken via the account repository.
type Engine struct {
	httpClient *http.Client
	baseURL    string
	codec      *secretcodec.Codec
	accounts   catalog.AccountRepository
	limiter    limiter.Limiter
	logger     *zap.Logger
}

// New constructs an Engine against the upstream profile service at baseURL.
func New(httpClient *http.Client, baseURL string, codec *secretcodec.Codec, accounts catalog.AccountRepository, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{httpClient: httpClient, baseURL: baseURL, codec: codec, accounts: accounts, logger: logger}
}

// WithLimiter attaches a login-attempt limiter; without one, login is unbounded.
func (e *Engine) WithLimiter(l limiter.Limiter) *Engine {
	e.limiter = l
	return e
}

type agentInfo struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

type authenticateRequest struct {
	Agent       agentInfo `json:"agent"`
	Username    string    `json:"username"`
	Password    string    `json:"password"`
	ClientToken string    `json:"clientToken"`
	RequestUser bool      `json:"requestUser"`
}

type validateOrRefreshRequest struct {
	AccessToken string `json:"accessToken"`
	ClientToken string `json:"clientToken"`
	RequestUser bool   `json:"requestUser"`
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// EnsureAuthenticated drives account to the VALID state, mutating and
// persisting its AccessToken (and, on first login, its ClientToken).
func (e *Engine) EnsureAuthenticated(ctx context.Context, a *model.Account) error {
	if a.AccessToken != "" {
		if err := e.validate(ctx, a); err == nil {
			return nil
		}
		if err := e.refresh(ctx, a); err == nil {
			return e.persist(ctx, a)
		}
		a.AccessToken = ""
	}
	return e.login(ctx, a)
}

func (e *Engine) validate(ctx context.Context, a *model.Account) error {
	body := validateOrRefreshRequest{AccessToken: a.AccessToken, ClientToken: a.ClientToken, RequestUser: true}
	_, err := e.post(ctx, a, "/validate", body)
	return err
}

func (e *Engine) refresh(ctx context.Context, a *model.Account) error {
	body := validateOrRefreshRequest{AccessToken: a.AccessToken, ClientToken: a.ClientToken, RequestUser: true}
	resp, err := e.post(ctx, a, "/refresh", body)
	if err != nil {
		return err
	}
	var tr tokenResponse
	if err := json.Unmarshal(resp, &tr); err != nil {
		return &AuthenticationError{Step: "refresh", Err: err}
	}
	a.AccessToken = tr.AccessToken
	return nil
}

func (e *Engine) login(ctx context.Context, a *model.Account) error {
	if e.limiter != nil {
		allowed, retryAfter, err := e.limiter.Allow(ctx, a.Username)
		if err != nil {
			e.logger.Warn("login limiter check failed", zap.Error(err))
		} else if !allowed {
			return errs.New(errs.KindAuth, &AuthenticationError{Step: "login", Err: fmt.Errorf("account blocked for %s", retryAfter)})
		}
	}

	passwordBytes, err := e.codec.Decrypt(a.EncryptedPassword)
	if err != nil {
		return err
	}

	if a.ClientToken == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return &AuthenticationError{Step: "login", Err: err}
		}
		a.ClientToken = id.String()
	}

	body := authenticateRequest{
		Agent:       agentInfo{Name: "Minecraft", Version: 1},
		Username:    a.Username,
		Password:    string(passwordBytes),
		ClientToken: a.ClientToken,
		RequestUser: true,
	}
	resp, err := e.post(ctx, a, "/authenticate", body)
	if err != nil {
		if e.limiter != nil {
			if _, _, lerr := e.limiter.Failure(ctx, a.Username); lerr != nil {
				e.logger.Warn("login limiter record-failure failed", zap.Error(lerr))
			}
		}
		var ae *AuthenticationError
		if errors.As(err, &ae) {
			return errs.New(errs.KindAuth, ae)
		}
		return errs.New(errs.KindAuth, err)
	}
	if e.limiter != nil {
		if lerr := e.limiter.Success(ctx, a.Username); lerr != nil {
			e.logger.Warn("login limiter record-success failed", zap.Error(lerr))
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp, &tr); err != nil {
		return errs.New(errs.KindAuth, &AuthenticationError{Step: "login", Err: err})
	}
	a.AccessToken = tr.AccessToken

	// Accounts carrying a stored security answer must also clear the
	// location gate before the access token is usable for skin changes.
	if len(a.EncryptedSecurityAnswer) > 0 {
		if err := e.CompleteSecurityChallenge(ctx, a); err != nil {
			if _, ok := errs.Of(err); ok {
				return err
			}
			return errs.New(errs.KindAuth, err)
		}
	}
	return e.persist(ctx, a)
}

func (e *Engine) persist(ctx context.Context, a *model.Account) error {
	_, err := e.accounts.Update(ctx, a)
	return err
}

// post issues a bounded-retry POST against the upstream service, retrying
// only transient transport failures (not 4xx/5xx rejections, which are
// terminal for this auth attempt).
func (e *Engine) post(ctx context.Context, a *model.Account, path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &AuthenticationError{Step: path, Err: err}
	}

	var respBody []byte
	b := retry.WithMaxRetries(2, retry.NewConstant(200*time.Millisecond))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(raw))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", userAgent)
		if a.RequestIP != "" {
			req.Header.Set("X-Forwarded-For", a.RequestIP)
			req.Header.Set("REMOTE_ADDR", a.RequestIP)
		}

		resp, err := e.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &AuthenticationError{Step: path, Body: string(body)}
		}
		respBody = body
		return nil
	})
	if err != nil {
		var ae *AuthenticationError
		if errors.As(err, &ae) {
			return nil, ae
		}
		return nil, &AuthenticationError{Step: path, Err: err}
	}
	return respBody, nil
}
