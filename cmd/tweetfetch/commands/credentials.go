package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/JohannesNE/aarhus-covid19-datathon/internal/config"
	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/auth"
)

// ErrInvalidCredentials is returned for a malformed credentials argument.
var ErrInvalidCredentials = errors.New("invalid credentials")

// CredentialKind selects the signing scheme of a credentials argument.
type CredentialKind string

const (
	// KindBearer is a ready bearer token.
	KindBearer CredentialKind = "bearer"
	// KindExchange is a KEY:SECRET pair traded for a bearer token.
	KindExchange CredentialKind = "exchange"
	// KindOAuth1 is KEY:SECRET:TOKEN:TOKEN_SECRET for user context requests.
	KindOAuth1 CredentialKind = "oauth1"
)

// Credentials is a parsed --api-credentials value.
type Credentials struct {
	Kind        CredentialKind
	Key         string
	Secret      string
	Token       string
	TokenSecret string
}

// ParseCredentials parses arg, or the content of the file named by arg:
// a bare token, KEY:SECRET or KEY:SECRET:TOKEN:TOKEN_SECRET.
func ParseCredentials(arg string) (Credentials, error) {
	value := strings.TrimSpace(arg)
	if value == "" {
		return Credentials{}, fmt.Errorf("%w: empty value", ErrInvalidCredentials)
	}

	data, err := os.ReadFile(value)
	switch {
	case err == nil:
		value = strings.TrimSpace(string(data))
	case errors.Is(err, fs.ErrNotExist):
	default:
		return Credentials{}, fmt.Errorf("read credentials file: %w", err)
	}

	parts := strings.Split(value, ":")
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return Credentials{}, fmt.Errorf("%w: empty field", ErrInvalidCredentials)
		}
	}

	switch len(parts) {
	case 1:
		return Credentials{Kind: KindBearer, Token: parts[0]}, nil
	case 2:
		return Credentials{Kind: KindExchange, Key: parts[0], Secret: parts[1]}, nil
	case 4:
		return Credentials{
			Kind:        KindOAuth1,
			Key:         parts[0],
			Secret:      parts[1],
			Token:       parts[2],
			TokenSecret: parts[3],
		}, nil
	default:
		return Credentials{}, fmt.Errorf("%w: want TOKEN, KEY:SECRET or KEY:SECRET:TOKEN:TOKEN_SECRET (got %d fields)",
			ErrInvalidCredentials, len(parts))
	}
}

// Signer builds the request signer. Exchange credentials cost one request
// to the token endpoint.
func (c Credentials) Signer(ctx context.Context, cfg config.APIConfig) (auth.Signer, error) {
	switch c.Kind {
	case KindBearer:
		return auth.NewBearerSigner(c.Token), nil
	case KindOAuth1:
		return auth.NewOAuth1Signer(auth.OAuth1Credentials{
			ConsumerKey:    c.Key,
			ConsumerSecret: c.Secret,
			Token:          c.Token,
			TokenSecret:    c.TokenSecret,
		}), nil
	case KindExchange:
		ec := auth.DefaultExchangeConfig(c.Key, c.Secret)
		if cfg.TokenURL != "" {
			ec.TokenURL = cfg.TokenURL
		}
		ec.HTTPClient = &http.Client{Timeout: cfg.Timeout}
		return auth.Exchange(ctx, ec)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidCredentials, c.Kind)
	}
}
