package commands_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JohannesNE/aarhus-covid19-datathon/cmd/tweetfetch/commands"
	"github.com/JohannesNE/aarhus-covid19-datathon/internal/config"
	"github.com/JohannesNE/aarhus-covid19-datathon/internal/testutil"
	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/auth"
	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/ratelimit"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// findSubcommand finds a subcommand by name within a cobra command.
func findSubcommand(cmd *cobra.Command, name string) *cobra.Command {
	for _, c := range cmd.Commands() {
		if c.Name() == name {
			return c
		}
	}

	return nil
}

// execute runs the root command with args and returns its output. HOME is
// isolated so that no user config file is read.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	root := commands.NewRootCommand("1.2.3", "abc123", "2021-06-01")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNewRootCommand(t *testing.T) {
	root := commands.NewRootCommand("dev", "none", "unknown")
	assert.Equal(t, "tweetfetch", root.Use)
	assert.True(t, root.SilenceUsage)
	assert.True(t, root.SilenceErrors)

	for _, name := range []string{"search", "hydrate", "conversations", "retweets", "conversation-ids", "limits", "version"} {
		assert.NotNil(t, findSubcommand(root, name), "missing subcommand %s", name)
	}

	for _, flag := range []string{"config", "development-mode", "output", "metrics-addr", "redis-addr", "nats-url", "nats-subject"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "missing persistent flag %s", flag)
	}
	assert.Equal(t, "z", root.PersistentFlags().Lookup("development-mode").Shorthand)
	assert.Equal(t, "table", root.PersistentFlags().Lookup("output").DefValue)
}

func TestSearchCommand_Flags(t *testing.T) {
	cmd := commands.NewSearchCommand()
	assert.Equal(t, "search", cmd.Use)
	assert.NotNil(t, cmd.RunE)

	shorthands := map[string]string{
		"api-credentials": "k",
		"query":           "q",
		"destination":     "d",
		"filename":        "p",
		"from":            "f",
		"to":              "t",
	}
	for name, short := range shorthands {
		flag := cmd.Flags().Lookup(name)
		require.NotNil(t, flag, "missing flag %s", name)
		assert.Equal(t, short, flag.Shorthand, "shorthand of %s", name)
	}

	for _, name := range []string{"api-credentials", "query", "destination", "from", "to"} {
		flag := cmd.Flags().Lookup(name)
		assert.Equal(t, []string{"true"}, flag.Annotations[cobra.BashCompOneRequiredFlag], "%s should be required", name)
	}
	assert.NotNil(t, cmd.Flags().Lookup("resume"))
}

func TestHydrateCommand_Flags(t *testing.T) {
	cmd := commands.NewHydrateCommand()
	assert.Equal(t, "hydrate", cmd.Use)
	assert.Equal(t, "i", cmd.Flags().Lookup("ids").Shorthand)
	assert.Equal(t, "tweets", cmd.Flags().Lookup("filename").DefValue)
}

func TestConversationIDsCommand_Flags(t *testing.T) {
	cmd := commands.NewConversationIDsCommand()
	assert.NotNil(t, cmd.Flags().Lookup("src"))
	assert.NotNil(t, cmd.Flags().Lookup("destination"))
	assert.Equal(t, "conversation-ids.txt", cmd.Flags().Lookup("out").DefValue)
}

func TestParseCredentials(t *testing.T) {
	dir := t.TempDir()
	credsFile := filepath.Join(dir, "creds.txt")
	require.NoError(t, os.WriteFile(credsFile, []byte("filekey:filesecret\n"), 0o600))

	tests := []struct {
		name     string
		arg      string
		expected commands.Credentials
		wantErr  bool
	}{
		{
			name:     "bare token is a bearer token",
			arg:      "AAAA%2Ftoken",
			expected: commands.Credentials{Kind: commands.KindBearer, Token: "AAAA%2Ftoken"},
		},
		{
			name:     "key and secret are exchanged",
			arg:      " key:secret ",
			expected: commands.Credentials{Kind: commands.KindExchange, Key: "key", Secret: "secret"},
		},
		{
			name: "four fields are oauth1",
			arg:  "ck:cs:tk:ts",
			expected: commands.Credentials{
				Kind: commands.KindOAuth1, Key: "ck", Secret: "cs", Token: "tk", TokenSecret: "ts",
			},
		},
		{
			name:     "file content",
			arg:      credsFile,
			expected: commands.Credentials{Kind: commands.KindExchange, Key: "filekey", Secret: "filesecret"},
		},
		{name: "empty", arg: "  ", wantErr: true},
		{name: "empty secret", arg: "key:", wantErr: true},
		{name: "three fields", arg: "a:b:c", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := commands.ParseCredentials(tt.arg)
			if tt.wantErr {
				assert.ErrorIs(t, err, commands.ErrInvalidCredentials)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestCredentials_Signer(t *testing.T) {
	cfg := config.DefaultConfig().API

	bearer, err := commands.Credentials{Kind: commands.KindBearer, Token: "tok"}.Signer(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &auth.BearerSigner{}, bearer)

	oauth, err := commands.Credentials{Kind: commands.KindOAuth1, Key: "a", Secret: "b", Token: "c", TokenSecret: "d"}.
		Signer(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &auth.OAuth1Signer{}, oauth)

	_, err = commands.Credentials{Kind: "magic"}.Signer(context.Background(), cfg)
	assert.ErrorIs(t, err, commands.ErrInvalidCredentials)
}

func TestCredentials_SignerExchange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token_type":"bearer","access_token":"exchanged"}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig().API
	cfg.TokenURL = server.URL
	cfg.Timeout = 5 * time.Second

	signer, err := commands.Credentials{Kind: commands.KindExchange, Key: "key", Secret: "secret"}.
		Signer(context.Background(), cfg)
	require.NoError(t, err)

	bearer, ok := signer.(*auth.BearerSigner)
	require.True(t, ok)
	assert.Equal(t, "exchanged", bearer.Token())
}

func TestLimitRows(t *testing.T) {
	rows := commands.LimitRows(ratelimit.DefaultLimits)
	require.Len(t, rows, len(ratelimit.DefaultLimits))
	assert.Equal(t, "tweets", rows[0].Endpoint)
	assert.Equal(t, "tweets/search/all", rows[1].Endpoint)
	assert.Equal(t, 300, rows[1].Limit)
	assert.Equal(t, "1s", rows[1].MinInterval)
}

func TestLimitsCommand_Output(t *testing.T) {
	out, err := execute(t, "limits", "-o", "json")
	require.NoError(t, err)

	var rows []commands.LimitRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	assert.Equal(t, commands.LimitRows(ratelimit.DefaultLimits), rows)

	out, err = execute(t, "limits", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "endpoint: tweets/search/all")
	assert.Contains(t, out, "min_interval: 1s")

	out, err = execute(t, "limits")
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(out), "min interval")
	assert.Contains(t, out, "tweets/search/all")

	_, err = execute(t, "limits", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version", "-o", "json")
	require.NoError(t, err)

	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, map[string]string{"version": "1.2.3", "commit": "abc123", "built": "2021-06-01"}, info)
}

func TestSearchCommand_MalformedInput(t *testing.T) {
	dest := t.TempDir()

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "missing required flag",
			args:    []string{"search", "-k", "tok", "-d", dest, "-f", "2021-06-01", "-t", "2021-06-02"},
			wantErr: "query",
		},
		{
			name:    "malformed from date",
			args:    []string{"search", "-k", "tok", "-q", "covid", "-d", dest, "-f", "june", "-t", "2021-06-02"},
			wantErr: "from",
		},
		{
			name:    "to before from",
			args:    []string{"search", "-k", "tok", "-q", "covid", "-d", dest, "-f", "2021-06-02", "-t", "2021-06-01"},
			wantErr: "before",
		},
		{
			name:    "malformed credentials",
			args:    []string{"search", "-k", "a:b:c", "-q", "covid", "-d", dest, "-f", "2021-06-01", "-t", "2021-06-02"},
			wantErr: "invalid credentials",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Empty(t, entries, "no output is written for malformed input")
}

func TestSearchCommand_FetchesIntoDestination(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("tweets/search/all", testutil.PagedHandler([][]string{{"1", "2", "3"}}))

	t.Setenv("TWEETFETCH_API_BASE_URL", mock.BaseURL())
	dest := t.TempDir()

	out, err := execute(t, "search", "-o", "json",
		"-k", "test-token", "-q", "covid lang:da", "-d", dest,
		"-f", "2021-06-01", "-t", "2021-06-02")
	require.NoError(t, err)

	var stats []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Len(t, stats, 1)
	assert.Equal(t, "tweets_2021-06-01_2021-06-02.ndjson", stats[0]["output"])
	assert.EqualValues(t, 3, stats[0]["entities"])

	data, err := os.ReadFile(filepath.Join(dest, "tweets_2021-06-01_2021-06-02.ndjson"))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 3)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer test-token", reqs[0].Header.Get("Authorization"))
	assert.Equal(t, "covid lang:da", reqs[0].Query.Get("query"))
	assert.Equal(t, "2021-06-03T00:00:00Z", reqs[0].Query.Get("end_time"))
}

func TestHydrateCommand_FetchesIntoDestination(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("tweets", func(w http.ResponseWriter, r *http.Request) {
		ids := strings.Split(r.URL.Query().Get("ids"), ",")
		resp := testutil.NewPageResponse(testutil.PageJSON(ids, ""))
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write([]byte(resp.Body))
	})

	t.Setenv("TWEETFETCH_API_BASE_URL", mock.BaseURL())
	dest := t.TempDir()

	_, err := execute(t, "hydrate", "-k", "test-token", "-i", "10, 11,12", "-d", dest, "-p", "lookup")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dest, "lookup.ndjson"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"id":"10"`)
	assert.Contains(t, lines[2], `"id":"12"`)
	assert.Equal(t, "10,11,12", mock.Requests()[0].Query.Get("ids"))
}

func TestConversationIDsCommand(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "tweets.ndjson")
	content := `{"id":"1","conversation_id":"100"}
{"id":"2","conversation_id":"200"}
`
	require.NoError(t, os.WriteFile(src, []byte(content), 0o644))

	out, err := execute(t, "conversation-ids", "--src", src, "-d", dir, "--out", "ids.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 2 conversation ids")

	data, err := os.ReadFile(filepath.Join(dir, "ids.txt"))
	require.NoError(t, err)
	assert.Equal(t, "100\n200\n", string(data))
}
