package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	slogctx "github.com/veqryn/slog-context"
)

// Tokens is the validated token endpoint response.
type Tokens struct {
	AccessToken string `mapstructure:"access_token"`
	TokenType   string `mapstructure:"token_type"`
	IDToken     string `mapstructure:"id_token"`
}

func (c *Client) exchangeCode(ctx context.Context, code, codeVerifier string) (Tokens, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("code_verifier", codeVerifier)
	data.Set("redirect_uri", c.oauth2.RedirectURL)
	data.Set("client_id", c.oauth2.ClientID)
	if c.clientSecret != "" {
		data.Set("client_secret", c.clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.oauth2.Endpoint.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return Tokens{}, errors.Join(ErrRetrieveToken, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Tokens{}, errors.Join(ErrRetrieveToken, fmt.Errorf("executing request: %w", err))
	}
	defer resp.Body.Close()

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Tokens{}, errors.Join(ErrRetrieveToken, fmt.Errorf("decoding response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		slogctx.Warn(ctx, "Token endpoint returned an error",
			"status", resp.StatusCode, "error", raw["error"], "error_description", raw["error_description"])
	}

	return decodeTokens(raw)
}

func decodeTokens(raw map[string]any) (Tokens, error) {
	var tokens Tokens
	if err := mapstructure.Decode(raw, &tokens); err != nil {
		return Tokens{}, errors.Join(ErrInvalidTokenSchema, err)
	}

	if tokens.AccessToken == "" || tokens.TokenType == "" {
		return Tokens{}, fmt.Errorf("%w: access_token and token_type are required", ErrInvalidTokenSchema)
	}

	return tokens, nil
}
