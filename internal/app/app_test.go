package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/require"

	"talk-pdf/internal/auth"
	"talk-pdf/internal/config"
	"talk-pdf/internal/integrations/gemini"
	"talk-pdf/internal/integrations/openai"
	"talk-pdf/internal/integrations/supabase"
	"talk-pdf/internal/repository"
	"talk-pdf/internal/session"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store: config.StoreConfig{
			Backend:     config.BackendSQLite,
			SQLitePath:  filepath.Join(t.TempDir(), "talkpdf.db"),
			DynamoIndex: "GSI1",
		},
		Inference: config.InferenceConfig{
			Provider:         config.ProviderGemini,
			Model:            "gemini-1.5-flash",
			APIKey:           "key",
			MaxDocumentBytes: 1 << 20,
		},
		Auth: config.AuthConfig{
			JWTSecret:        "secret",
			JWTAudience:      "authenticated",
			EnforceOwnership: true,
		},
		Log: config.LogConfig{Level: "info"},
	}
}

// countingAWS records how often the AWS configuration is loaded.
func countingAWS(b *Builder, err error) *int {
	calls := 0
	b.loadAWS = func(context.Context) (aws.Config, error) {
		calls++
		return aws.Config{Region: "eu-west-1"}, err
	}
	return &calls
}

func newTestBuilder(t *testing.T, cfg *config.Config) *Builder {
	t.Helper()
	b, err := NewBuilder(cfg)
	require.NoError(t, err)
	return b
}

func TestNewBuilder_NilConfig(t *testing.T) {
	_, err := NewBuilder(nil)
	require.Error(t, err)
}

func TestServer_LocalStackDoesNotTouchAWS(t *testing.T) {
	b := newTestBuilder(t, testConfig(t))
	calls := countingAWS(b, errors.New("no credentials"))

	srv, err := b.Server(context.Background())
	require.NoError(t, err)
	defer srv.Close()

	require.NotNil(t, srv.Service)
	require.IsType(t, &repository.SQLite{}, srv.Store)
	require.Zero(t, *calls)
}

func TestStore_DynamoLoadsAWSOnce(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = config.BackendDynamoDB
	cfg.Store.DynamoTable = "talkpdf"
	b := newTestBuilder(t, cfg)
	calls := countingAWS(b, nil)

	store, err := b.Store(context.Background())
	require.NoError(t, err)
	require.IsType(t, &repository.Dynamo{}, store)

	_, err = b.Store(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, *calls)
}

func TestStore_AWSFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = config.BackendDynamoDB
	cfg.Store.DynamoTable = "talkpdf"
	b := newTestBuilder(t, cfg)
	countingAWS(b, errors.New("no credentials"))

	_, err := b.Store(context.Background())
	require.ErrorContains(t, err, "no credentials")
}

func TestStore_UnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "mongo"
	_, err := newTestBuilder(t, cfg).Store(context.Background())
	require.Error(t, err)
}

func TestVerifier(t *testing.T) {
	cfg := testConfig(t)
	v, err := newTestBuilder(t, cfg).Verifier(context.Background())
	require.NoError(t, err)
	require.IsType(t, &auth.JWTVerifier{}, v)

	cfg.Auth.JWTSecret = ""
	cfg.Auth.SupabaseURL = "https://project.supabase.co"
	cfg.Auth.SupabaseAnonKey = "anon"
	v, err = newTestBuilder(t, cfg).Verifier(context.Background())
	require.NoError(t, err)
	require.IsType(t, &supabase.Client{}, v)

	cfg.Auth.SupabaseURL = ""
	_, err = newTestBuilder(t, cfg).Verifier(context.Background())
	require.ErrorContains(t, err, "param_prefix")
}

func TestInference(t *testing.T) {
	cfg := testConfig(t)
	inf, err := newTestBuilder(t, cfg).Inference(context.Background())
	require.NoError(t, err)
	require.IsType(t, &gemini.Client{}, inf)

	cfg.Inference.Provider = config.ProviderOpenAI
	cfg.Inference.Model = "gpt-4o-mini"
	cfg.Inference.BaseURL = "http://localhost:11434/v1"
	inf, err = newTestBuilder(t, cfg).Inference(context.Background())
	require.NoError(t, err)
	require.IsType(t, &openai.Client{}, inf)

	cfg.Inference.Provider = "llama"
	_, err = newTestBuilder(t, cfg).Inference(context.Background())
	require.Error(t, err)
}

func TestInference_UnsetModelKeepsProviderDefault(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TALKPDF_INFERENCE_PROVIDER", config.ProviderOpenAI)
	t.Setenv("TALKPDF_INFERENCE_API_KEY", "k")

	cfg, err := config.Load("")
	require.NoError(t, err)
	inf, err := newTestBuilder(t, cfg).Inference(context.Background())
	require.NoError(t, err)
	require.IsType(t, &openai.Client{}, inf)
	require.Equal(t, "gpt-4o-mini", inf.(*openai.Client).Model())

	cfg.Inference.Provider = config.ProviderGemini
	inf, err = newTestBuilder(t, cfg).Inference(context.Background())
	require.NoError(t, err)
	require.Equal(t, gemini.DefaultModel, inf.(*gemini.Client).Model())
}

func TestInference_KeyFromParameterStoreIsLazy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Inference.APIKey = ""
	cfg.Secrets.ParamPrefix = "/talkpdf"
	b := newTestBuilder(t, cfg)
	calls := countingAWS(b, nil)

	inf, err := b.Inference(context.Background())
	require.NoError(t, err)
	require.IsType(t, &gemini.Client{}, inf)
	require.Equal(t, 1, *calls)
	require.Equal(t, "/talkpdf/gemini-token", b.params.Resolve(ParamGeminiToken))
}

func TestNewLogger(t *testing.T) {
	cfg := testConfig(t)
	cfg.Log.Level = "debug"

	var buf bytes.Buffer
	NewLogger(cfg, &buf, true).Debug("hello", "k", "v")
	require.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	cfg.Log.Level = "warn"
	NewLogger(cfg, &buf, false).Info("hidden")
	require.Empty(t, buf.String())
}

type noPrompt struct{}

func (noPrompt) Title(context.Context) (string, error)         { return "", session.ErrCancelled }
func (noPrompt) Confirm(context.Context, string) (bool, error) { return false, nil }

func TestClient_WithoutSavedSessionRequiresLogin(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.SupabaseURL = "https://project.supabase.co"
	cfg.Auth.SupabaseAnonKey = "anon"
	cfg.Client.APIURL = "http://localhost:8080"
	cfg.Client.SessionFile = filepath.Join(t.TempDir(), "session.json")
	b := newTestBuilder(t, cfg)
	calls := countingAWS(b, errors.New("no credentials"))

	c, err := b.Client(context.Background(), noPrompt{})
	require.NoError(t, err)
	defer c.Close()

	require.Equal(t, cfg.Client.SessionFile, c.Sessions.Path())
	err = c.Controller.Start(context.Background())
	require.ErrorIs(t, err, session.ErrLoginRequired)
	require.ErrorIs(t, err, supabase.ErrNoSession)
	require.Equal(t, session.Unauthenticated, c.Controller.State().Phase)
	require.Zero(t, *calls)
}

func TestClient_BadAPIURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.SupabaseURL = "https://project.supabase.co"
	cfg.Auth.SupabaseAnonKey = "anon"
	cfg.Client.APIURL = ""
	_, err := newTestBuilder(t, cfg).Client(context.Background(), noPrompt{})
	require.Error(t, err)
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (stand-in for testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("chdir: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("chdir: restore %s: %v", prev, err)
		}
	})
}
