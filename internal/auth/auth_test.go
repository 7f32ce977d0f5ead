package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mineskin-ng/skingen/internal/errs"
	"github.com/mineskin-ng/skingen/internal/model"
	"github.com/mineskin-ng/skingen/internal/secretcodec"
)

type fakeAccountRepo struct {
	updated   *model.Account
	updateErr error
}

func (f *fakeAccountRepo) FindEligible(context.Context, string, map[uint64]struct{}) (*model.Account, error) {
	return nil, nil
}
func (f *fakeAccountRepo) CountUsable(context.Context, string) (int, error) { return 0, nil }
func (f *fakeAccountRepo) Update(_ context.Context, a *model.Account) (*model.Account, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	cp := *a
	f.updated = &cp
	return &cp, nil
}

func newTestCodec(t *testing.T) *secretcodec.Codec {
	t.Helper()
	return secretcodec.New("test-passphrase", []byte("test-salt-value-"))
}

func encrypted(t *testing.T, codec *secretcodec.Codec, plain string) []byte {
	t.Helper()
	ct, err := codec.Encrypt([]byte(plain))
	require.NoError(t, err)
	return ct
}

func TestEnsureAuthenticated_ValidAccessToken_NoOp(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/validate", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	codec := newTestCodec(t)
	repo := &fakeAccountRepo{}
	e := New(srv.Client(), srv.URL, codec, repo, nil)

	a := &model.Account{ID: 1, AccessToken: "still-good"}
	err := e.EnsureAuthenticated(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, "still-good", a.AccessToken)
	require.Nil(t, repo.updated, "validate success must not trigger a persist")
}

func TestEnsureAuthenticated_ExpiredAccessToken_RefreshesAndPersists(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/validate":
			w.WriteHeader(http.StatusForbidden)
		case "/refresh":
			_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "fresh-token"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	codec := newTestCodec(t)
	repo := &fakeAccountRepo{}
	e := New(srv.Client(), srv.URL, codec, repo, nil)

	a := &model.Account{ID: 1, AccessToken: "expired", ClientToken: "ct-1"}
	err := e.EnsureAuthenticated(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, "fresh-token", a.AccessToken)
	require.NotNil(t, repo.updated)
	require.Equal(t, "fresh-token", repo.updated.AccessToken)
}

func TestEnsureAuthenticated_RefreshFails_FallsBackToLogin(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/validate":
			w.WriteHeader(http.StatusForbidden)
		case "/refresh":
			w.WriteHeader(http.StatusForbidden)
		case "/authenticate":
			var req authenticateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "alice", req.Username)
			require.Equal(t, "hunter2", req.Password)
			require.NotEmpty(t, req.ClientToken)
			_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "login-token"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	codec := newTestCodec(t)
	repo := &fakeAccountRepo{}
	e := New(srv.Client(), srv.URL, codec, repo, nil)

	a := &model.Account{
		ID:                1,
		Username:          "alice",
		AccessToken:       "expired",
		EncryptedPassword: encrypted(t, codec, "hunter2"),
	}
	err := e.EnsureAuthenticated(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, "login-token", a.AccessToken)
	require.NotEmpty(t, a.ClientToken)
}

func TestEnsureAuthenticated_EmptyAccessToken_LoginDirectly(t *testing.T) {
	t.Parallel()
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/authenticate", r.URL.Path)
		called = true
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "login-token"})
	}))
	defer srv.Close()

	codec := newTestCodec(t)
	repo := &fakeAccountRepo{}
	e := New(srv.Client(), srv.URL, codec, repo, nil)

	a := &model.Account{ID: 1, Username: "bob", EncryptedPassword: encrypted(t, codec, "pw")}
	err := e.EnsureAuthenticated(context.Background(), a)
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, "login-token", a.AccessToken)
}

func TestEnsureAuthenticated_LoginRejected_RaisesAuthKind(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Invalid credentials"}`))
	}))
	defer srv.Close()

	codec := newTestCodec(t)
	repo := &fakeAccountRepo{}
	e := New(srv.Client(), srv.URL, codec, repo, nil)

	a := &model.Account{ID: 1, Username: "bob", EncryptedPassword: encrypted(t, codec, "pw")}
	err := e.EnsureAuthenticated(context.Background(), a)
	require.Error(t, err)
	kind, ok := errs.Of(err)
	require.True(t, ok)
	require.Equal(t, errs.KindAuth, kind)
}

func TestEnsureAuthenticated_UndecryptablePassword_RaisesCredentialUnreadable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("upstream should not be called when the password cannot be decrypted")
	}))
	defer srv.Close()

	codec := newTestCodec(t)
	repo := &fakeAccountRepo{}
	e := New(srv.Client(), srv.URL, codec, repo, nil)

	a := &model.Account{ID: 1, Username: "bob", EncryptedPassword: []byte("not-valid-ciphertext")}
	err := e.EnsureAuthenticated(context.Background(), a)
	require.Error(t, err)
	kind, ok := errs.Of(err)
	require.True(t, ok)
	require.Equal(t, errs.KindCredentialUnreadable, kind)
}

func TestEnsureAuthenticated_ForwardsOriginIP(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "203.0.113.5", r.Header.Get("X-Forwarded-For"))
		require.Equal(t, userAgent, r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	codec := newTestCodec(t)
	repo := &fakeAccountRepo{}
	e := New(srv.Client(), srv.URL, codec, repo, nil)

	a := &model.Account{ID: 1, AccessToken: "tok", RequestIP: "203.0.113.5"}
	require.NoError(t, e.EnsureAuthenticated(context.Background(), a))
}
