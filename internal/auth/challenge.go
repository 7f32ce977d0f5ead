package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/mineskin-ng/skingen/internal/errs"
	"github.com/mineskin-ng/skingen/internal/model"
)

const (
	challengeLocationPath = "/user/security/location"
	challengesPath        = "/user/security/challenges"
)

type securityQuestion struct {
	ID       int    `json:"id"`
	Question string `json:"question"`
}

type challengeAnswer struct {
	ID     int    `json:"id"`
	Answer string `json:"answer"`
}

// CompleteSecurityChallenge answers the Mojang security-question gate on
// demand: it is a no-op when the account is already past the
// gate, and otherwise fetches the question set and submits the single
// stored answer for every question id.
func (e *Engine) CompleteSecurityChallenge(ctx context.Context, a *model.Account) error {
	ok, err := e.checkChallengeLocation(ctx, a)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	questions, err := e.fetchChallenges(ctx, a)
	if err != nil {
		return err
	}

	answer, err := e.codec.Decrypt(a.EncryptedSecurityAnswer)
	if err != nil {
		return err
	}

	if err := e.submitChallengeAnswers(ctx, a, questions, string(answer)); err != nil {
		return err
	}

	ok, err = e.checkChallengeLocation(ctx, a)
	if err != nil {
		return err
	}
	if !ok {
		return errs.New(errs.KindAuth, errors.New("security challenge not accepted"))
	}
	return nil
}

func (e *Engine) checkChallengeLocation(ctx context.Context, a *model.Account) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+challengeLocationPath, nil)
	if err != nil {
		return false, &AuthenticationError{Step: "challenge-location", Err: err}
	}
	e.setCommonHeaders(req, a)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return false, &AuthenticationError{Step: "challenge-location", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

func (e *Engine) fetchChallenges(ctx context.Context, a *model.Account) ([]securityQuestion, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+challengesPath, nil)
	if err != nil {
		return nil, &AuthenticationError{Step: "challenges", Err: err}
	}
	e.setCommonHeaders(req, a)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, &AuthenticationError{Step: "challenges", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AuthenticationError{Step: "challenges", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &AuthenticationError{Step: "challenges", Body: string(body)}
	}

	var questions []securityQuestion
	if err := json.Unmarshal(body, &questions); err != nil {
		return nil, &AuthenticationError{Step: "challenges", Err: err}
	}
	return questions, nil
}

func (e *Engine) submitChallengeAnswers(ctx context.Context, a *model.Account, questions []securityQuestion, answer string) error {
	answers := make([]challengeAnswer, len(questions))
	for i, q := range questions {
		answers[i] = challengeAnswer{ID: q.ID, Answer: answer}
	}
	raw, err := json.Marshal(answers)
	if err != nil {
		return &AuthenticationError{Step: "challenge-answer", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+challengeLocationPath, bytes.NewReader(raw))
	if err != nil {
		return &AuthenticationError{Step: "challenge-answer", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	e.setCommonHeaders(req, a)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return &AuthenticationError{Step: "challenge-answer", Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &AuthenticationError{Step: "challenge-answer", Body: string(body)}
	}
	return nil
}

func (e *Engine) setCommonHeaders(req *http.Request, a *model.Account) {
	req.Header.Set("User-Agent", userAgent)
	if a.RequestIP != "" {
		req.Header.Set("X-Forwarded-For", a.RequestIP)
		req.Header.Set("REMOTE_ADDR", a.RequestIP)
	}
}
