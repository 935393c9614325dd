package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"chatterm/internal/chat"
)

// LoginResult is the server's response to a successful sign-in. The sender
// label is server-derived (the email local part) and appears next to the
// user's messages.
type LoginResult struct {
	Token       string `json:"token"`
	SenderLabel string `json:"senderLabel"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for a stream token via POST {baseURL}/login.
func Login(ctx context.Context, hc *http.Client, baseURL, email, password string) (*LoginResult, error) {
	if hc == nil {
		hc = http.DefaultClient
	}

	body, err := json.Marshal(loginRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, &chat.TransientError{Op: "login", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var p ErrorPayload
		_ = json.NewDecoder(resp.Body).Decode(&p)
		if p.Message == "" {
			p.Message = resp.Status
		}
		return nil, fmt.Errorf("login failed: %s", p.Message)
	}

	var result LoginResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	return &result, nil
}
