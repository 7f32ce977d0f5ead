package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mineskin-ng/skingen/internal/model"
)

func TestCompleteSecurityChallenge_AlreadyAnswered_NoOp(t *testing.T) {
	t.Parallel()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, challengeLocationPath, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	codec := newTestCodec(t)
	e := New(srv.Client(), srv.URL, codec, &fakeAccountRepo{}, nil)

	a := &model.Account{ID: 1}
	require.NoError(t, e.CompleteSecurityChallenge(context.Background(), a))
	require.Equal(t, 1, calls)
}

func TestCompleteSecurityChallenge_SubmitsStoredAnswerForEachQuestion(t *testing.T) {
	t.Parallel()
	locationHits := 0
	var submitted []challengeAnswer

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == challengeLocationPath:
			locationHits++
			if locationHits == 1 {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Path == challengesPath:
			_ = json.NewEncoder(w).Encode([]securityQuestion{{ID: 1, Question: "pet"}, {ID: 2, Question: "city"}})
		case r.Method == http.MethodPost && r.URL.Path == challengeLocationPath:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&submitted))
			w.WriteHeader(http.StatusOK)
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	codec := newTestCodec(t)
	e := New(srv.Client(), srv.URL, codec, &fakeAccountRepo{}, nil)

	a := &model.Account{ID: 1, EncryptedSecurityAnswer: encrypted(t, codec, "fluffy")}
	require.NoError(t, e.CompleteSecurityChallenge(context.Background(), a))
	require.Len(t, submitted, 2)
	for _, ans := range submitted {
		require.Equal(t, "fluffy", ans.Answer)
	}
}

func TestLogin_WithStoredAnswer_ClearsChallengeGate(t *testing.T) {
	t.Parallel()
	locationHits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/authenticate":
			_ = json.NewEncoder(w).Encode(map[string]string{"accessToken": "tok-gated"})
		case r.Method == http.MethodGet && r.URL.Path == challengeLocationPath:
			locationHits++
			if locationHits == 1 {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Path == challengesPath:
			_ = json.NewEncoder(w).Encode([]securityQuestion{{ID: 1, Question: "pet"}})
		case r.Method == http.MethodPost && r.URL.Path == challengeLocationPath:
			w.WriteHeader(http.StatusOK)
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	codec := newTestCodec(t)
	repo := &fakeAccountRepo{}
	e := New(srv.Client(), srv.URL, codec, repo, nil)

	a := &model.Account{
		ID:                      1,
		Username:                "gated",
		EncryptedPassword:       encrypted(t, codec, "hunter2"),
		EncryptedSecurityAnswer: encrypted(t, codec, "fluffy"),
	}
	require.NoError(t, e.EnsureAuthenticated(context.Background(), a))
	require.Equal(t, "tok-gated", a.AccessToken)
	require.Equal(t, 2, locationHits, "login must re-check the gate after submitting answers")
	require.NotNil(t, repo.updated)
}

func TestCompleteSecurityChallenge_StillRejectedAfterSubmit_Errors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == challengeLocationPath:
			w.WriteHeader(http.StatusForbidden)
		case r.Method == http.MethodGet && r.URL.Path == challengesPath:
			_ = json.NewEncoder(w).Encode([]securityQuestion{{ID: 1, Question: "pet"}})
		case r.Method == http.MethodPost && r.URL.Path == challengeLocationPath:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	codec := newTestCodec(t)
	e := New(srv.Client(), srv.URL, codec, &fakeAccountRepo{}, nil)

	a := &model.Account{ID: 1, EncryptedSecurityAnswer: encrypted(t, codec, "fluffy")}
	err := e.CompleteSecurityChallenge(context.Background(), a)
	require.Error(t, err)
}
