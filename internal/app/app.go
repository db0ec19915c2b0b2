// Package app assembles the Answer Service and the CLI session from
// configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"talk-pdf/internal/auth"
	"talk-pdf/internal/chatclient"
	"talk-pdf/internal/config"
	"talk-pdf/internal/integrations/gemini"
	"talk-pdf/internal/integrations/openai"
	"talk-pdf/internal/integrations/paramstore"
	"talk-pdf/internal/integrations/supabase"
	"talk-pdf/internal/repository"
	"talk-pdf/internal/session"
	"talk-pdf/internal/usecase"
)

// Parameter names read under secrets.param_prefix when a value is not set
// in the configuration.
const (
	ParamGeminiToken = "gemini-token"
	ParamOpenAIToken = "open-ai-token"
	ParamJWTSecret   = "supabase-jwt-secret"
)

// NewLogger returns a text or JSON slog logger at the configured level.
func NewLogger(cfg *config.Config, w io.Writer, jsonFormat bool) *slog.Logger {
	lvl, err := cfg.SlogLevel()
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Builder creates components from one configuration and loads the AWS SDK
// configuration at most once, only when a component needs it.
type Builder struct {
	cfg *config.Config

	loadAWS func(ctx context.Context) (aws.Config, error)

	awsOnce sync.Once
	awsCfg  aws.Config
	awsErr  error

	params *paramstore.Client
}

func NewBuilder(cfg *config.Config) (*Builder, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	return &Builder{
		cfg: cfg,
		loadAWS: func(ctx context.Context) (aws.Config, error) {
			return awsconfig.LoadDefaultConfig(ctx)
		},
	}, nil
}

func (b *Builder) aws(ctx context.Context) (aws.Config, error) {
	b.awsOnce.Do(func() {
		b.awsCfg, b.awsErr = b.loadAWS(ctx)
		if b.awsErr != nil {
			b.awsErr = fmt.Errorf("app: load AWS config: %w", b.awsErr)
		}
	})
	return b.awsCfg, b.awsErr
}

func (b *Builder) paramStore(ctx context.Context) (*paramstore.Client, error) {
	if b.params != nil {
		return b.params, nil
	}
	awsCfg, err := b.aws(ctx)
	if err != nil {
		return nil, err
	}
	ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg), b.cfg.Secrets.ParamPrefix)
	if err != nil {
		return nil, err
	}
	b.params = ps
	return ps, nil
}

// secret returns value when set, otherwise the named parameter.
func (b *Builder) secret(ctx context.Context, value, param string) (paramstore.Secret, error) {
	if strings.TrimSpace(value) != "" {
		return paramstore.Static(value), nil
	}
	if b.cfg.Secrets.ParamPrefix == "" {
		return nil, fmt.Errorf("app: %s is not configured and secrets.param_prefix is empty", param)
	}
	ps, err := b.paramStore(ctx)
	if err != nil {
		return nil, err
	}
	return paramstore.NewTokenSecret(ps, param)
}

// Store opens the configured transcript store.
func (b *Builder) Store(ctx context.Context) (repository.Store, error) {
	sc := b.cfg.Store
	switch sc.Backend {
	case config.BackendDynamoDB:
		awsCfg, err := b.aws(ctx)
		if err != nil {
			return nil, err
		}
		return repository.NewDynamo(awsdynamodb.NewFromConfig(awsCfg), sc.DynamoTable, sc.DynamoIndex)
	case config.BackendPostgres:
		return repository.ConnectPostgres(ctx, sc.PostgresDSN)
	case config.BackendSQLite:
		return repository.OpenSQLite(sc.SQLitePath)
	default:
		return nil, fmt.Errorf("app: unknown store backend %q", sc.Backend)
	}
}

// Verifier prefers local JWT verification and falls back to asking the
// Supabase Auth server.
func (b *Builder) Verifier(ctx context.Context) (usecase.Verifier, error) {
	ac := b.cfg.Auth
	if ac.JWTSecret == "" && ac.SupabaseURL != "" {
		client, err := b.AuthClient()
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	secret, err := b.secret(ctx, ac.JWTSecret, ParamJWTSecret)
	if err != nil {
		return nil, err
	}
	value, err := secret.Value(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: resolve jwt secret: %w", err)
	}
	return auth.NewJWTVerifier(value, auth.WithAudience(ac.JWTAudience))
}

// AuthClient returns the Supabase Auth client.
func (b *Builder) AuthClient() (*supabase.Client, error) {
	return supabase.NewClient(b.cfg.Auth.SupabaseURL, b.cfg.Auth.SupabaseAnonKey)
}

// Inference returns the configured provider client. The API key is fetched
// lazily on the first request.
func (b *Builder) Inference(ctx context.Context) (usecase.Inference, error) {
	ic := b.cfg.Inference
	switch ic.Provider {
	case config.ProviderGemini:
		secret, err := b.secret(ctx, ic.APIKey, ParamGeminiToken)
		if err != nil {
			return nil, err
		}
		return gemini.New(secret, gemini.WithModel(ic.Model))
	case config.ProviderOpenAI:
		secret, err := b.secret(ctx, ic.APIKey, ParamOpenAIToken)
		if err != nil {
			return nil, err
		}
		opts := []openai.Option{openai.WithModel(ic.Model)}
		if ic.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(ic.BaseURL))
		}
		return openai.NewClient(secret, opts...)
	default:
		return nil, fmt.Errorf("app: unknown inference provider %q", ic.Provider)
	}
}

// Server is the assembled Answer Service with the store it owns.
type Server struct {
	Service *usecase.AnswerService
	Store   repository.Store
}

func (s *Server) Close() error {
	if s.Store == nil {
		return nil
	}
	return s.Store.Close()
}

// Server wires store, verifier and provider into an AnswerService.
func (b *Builder) Server(ctx context.Context) (*Server, error) {
	store, err := b.Store(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}
	srv, err := b.serverWithStore(ctx, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return srv, nil
}

func (b *Builder) serverWithStore(ctx context.Context, store repository.Store) (*Server, error) {
	verifier, err := b.Verifier(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: create verifier: %w", err)
	}
	inference, err := b.Inference(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: create inference client: %w", err)
	}
	svc, err := usecase.NewAnswerService(verifier, inference, store,
		usecase.WithMaxDocumentBytes(b.cfg.Inference.MaxDocumentBytes),
		usecase.WithOwnershipCheck(b.cfg.Auth.EnforceOwnership),
	)
	if err != nil {
		return nil, err
	}
	return &Server{Service: svc, Store: store}, nil
}

// Client is the assembled CLI session with the resources it owns.
type Client struct {
	Controller *session.Controller
	Auth       *supabase.Client
	Sessions   *supabase.SessionFile
	Store      repository.Store
}

func (c *Client) Close() error {
	if c.Store == nil {
		return nil
	}
	return c.Store.Close()
}

// Client wires the saved session, the store and the Answer Service client
// into a session Controller. The controller is returned unstarted.
func (b *Builder) Client(ctx context.Context, prompter session.Prompter) (*Client, error) {
	authClient, err := b.AuthClient()
	if err != nil {
		return nil, fmt.Errorf("app: create auth client: %w", err)
	}
	file, err := supabase.NewSessionFile(b.cfg.Client.SessionFile)
	if err != nil {
		return nil, err
	}
	resolver, err := supabase.NewResolver(authClient, file)
	if err != nil {
		return nil, err
	}
	chat, err := chatclient.New(b.cfg.Client.APIURL)
	if err != nil {
		return nil, fmt.Errorf("app: create chat client: %w", err)
	}
	store, err := b.Store(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}
	ctrl, err := session.NewController(resolver, store, chat, prompter)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &Client{Controller: ctrl, Auth: authClient, Sessions: file, Store: store}, nil
}
