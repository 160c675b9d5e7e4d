package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/JohannesNE/aarhus-covid19-datathon/internal/clock"
	"github.com/JohannesNE/aarhus-covid19-datathon/internal/urlenc"
	"github.com/google/uuid"
)

// OAuth1Credentials are the consumer and user token pairs of an OAuth1 app.
type OAuth1Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	Token          string
	TokenSecret    string
}

// OAuth1Signer signs each request with an HMAC-SHA1 OAuth1 signature.
type OAuth1Signer struct {
	creds OAuth1Credentials
	clock clock.Clock
	nonce func() string
}

// NewOAuth1Signer returns a signer for creds using the wall clock and random
// nonces.
func NewOAuth1Signer(creds OAuth1Credentials) *OAuth1Signer {
	return &OAuth1Signer{
		creds: creds,
		clock: clock.Real{},
		nonce: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
}

// Sign computes the signature over the method, the base URL and every query,
// form and oauth parameter, then sets the OAuth Authorization header.
func (s *OAuth1Signer) Sign(req *http.Request, form url.Values) error {
	if s.creds.ConsumerKey == "" || s.creds.ConsumerSecret == "" {
		return &Error{Op: "sign", Err: errors.New("consumer key and secret are required")}
	}

	oauth := map[string]string{
		"oauth_consumer_key":     s.creds.ConsumerKey,
		"oauth_nonce":            s.nonce(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(s.clock.Now().Unix(), 10),
		"oauth_version":          "1.0",
	}
	if s.creds.Token != "" {
		oauth["oauth_token"] = s.creds.Token
	}

	params := make(url.Values)
	for k, vs := range req.URL.Query() {
		params[k] = append(params[k], vs...)
	}
	for k, vs := range form {
		params[k] = append(params[k], vs...)
	}
	for k, v := range oauth {
		params.Set(k, v)
	}

	base := signatureBase(req.Method, req.URL, params)
	key := urlenc.Escape(s.creds.ConsumerSecret) + "&" + urlenc.Escape(s.creds.TokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	oauth["oauth_signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("Authorization", authorizationHeader(oauth))
	return nil
}

// signatureBase builds METHOD&url&params with every part percent-escaped and
// the parameters sorted by escaped key, then value.
func signatureBase(method string, u *url.URL, params url.Values) string {
	type pair struct{ k, v string }
	pairs := make([]pair, 0, len(params))
	for k, vs := range params {
		for _, v := range vs {
			pairs = append(pairs, pair{urlenc.Escape(k), urlenc.Escape(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	joined := make([]string, len(pairs))
	for i, p := range pairs {
		joined[i] = p.k + "=" + p.v
	}

	baseURL := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + u.EscapedPath()

	return strings.ToUpper(method) + "&" + urlenc.Escape(baseURL) + "&" + urlenc.Escape(strings.Join(joined, "&"))
}

func authorizationHeader(oauth map[string]string) string {
	keys := make([]string, 0, len(oauth))
	for k := range oauth {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = urlenc.Escape(k) + `="` + urlenc.Escape(oauth[k]) + `"`
	}
	return "OAuth " + strings.Join(parts, ", ")
}
