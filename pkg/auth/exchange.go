package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JohannesNE/aarhus-covid19-datathon/internal/urlenc"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTokenURL is the application-only token endpoint.
const DefaultTokenURL = "https://api.twitter.com/oauth2/token"

// ExchangeConfig holds the parameters of a client credentials exchange.
type ExchangeConfig struct {
	Key    string
	Secret string

	// TokenURL defaults to DefaultTokenURL.
	TokenURL string

	// HTTPClient is the underlying transport. Optional.
	HTTPClient *http.Client

	// RetryMax bounds the transport level retries of the exchange call.
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// DefaultExchangeConfig returns an exchange configuration for key and secret.
func DefaultExchangeConfig(key, secret string) ExchangeConfig {
	return ExchangeConfig{
		Key:          key,
		Secret:       secret,
		TokenURL:     DefaultTokenURL,
		RetryMax:     3,
		RetryWaitMin: time.Second,
		RetryWaitMax: 30 * time.Second,
	}
}

type tokenResponse struct {
	TokenType   string `json:"token_type"`
	AccessToken string `json:"access_token"`
}

// Exchange trades a key/secret pair for an application-only bearer token and
// returns a signer using it. The exchange happens once; the token is not
// refreshed.
func Exchange(ctx context.Context, cfg ExchangeConfig) (*BearerSigner, error) {
	if cfg.Key == "" || cfg.Secret == "" {
		return nil, &Error{Op: "exchange", Err: errors.New("key and secret are required")}
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}

	logger := log.With().Str("component", "auth").Logger()

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.RetryWaitMax
	}
	if cfg.HTTPClient != nil {
		rc.HTTPClient = cfg.HTTPClient
	}
	rc.Logger = leveledLogger{logger: logger}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL,
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return nil, &Error{Op: "exchange", Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Authorization", "Basic "+basicCredentials(cfg.Key, cfg.Secret))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")
	req.Header.Set("Accept", "application/json")

	resp, err := rc.Do(req)
	if err != nil {
		return nil, &Error{Op: "exchange", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: "exchange", StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Op: "exchange", StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(body)))}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &Error{Op: "exchange", StatusCode: resp.StatusCode, Err: fmt.Errorf("decode token response: %w", err)}
	}
	if tr.AccessToken == "" {
		return nil, &Error{Op: "exchange", StatusCode: resp.StatusCode, Err: errors.New("response has no access_token")}
	}

	logger.Info().Str("token_type", tr.TokenType).Msg("Obtained application-only bearer token")
	return NewBearerSigner(tr.AccessToken), nil
}

// basicCredentials encodes key and secret for HTTP Basic auth. Both parts are
// percent-escaped before joining, as the token endpoint expects.
func basicCredentials(key, secret string) string {
	return base64.StdEncoding.EncodeToString([]byte(urlenc.Escape(key) + ":" + urlenc.Escape(secret)))
}

// leveledLogger routes retryablehttp logging to zerolog.
type leveledLogger struct {
	logger zerolog.Logger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}
