package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"secure-fields/internal/audit"
	"secure-fields/internal/auth"
	"secure-fields/internal/crypto"
	"secure-fields/internal/field"
	"secure-fields/internal/keystore"
)

// OwnerCheck decides whether the session owns a field's data. Delegated to
// the host identity layer in production; the default compares the session
// subject with the definition's owner.
type OwnerCheck func(claims *auth.Claims, def field.Definition) bool

// Deps are the collaborators the protocol boundary works against. Injected
// so tests run without Mongo or a real host platform.
type Deps struct {
	Keys     *keystore.Manager
	Values   field.ValueStore
	Registry *field.Registry
	Signer   *auth.Signer
	Owner    OwnerCheck
	Logger   *logrus.Logger
}

type Server struct {
	cfg Config

	mux      *http.ServeMux
	signer   *auth.Signer
	codec    *crypto.Codec
	keys     *keystore.Manager
	values   field.ValueStore
	registry *field.Registry
	ownerOK  OwnerCheck
	auditLog *audit.Log
	logger   *logrus.Logger

	storageClient *mongo.Client

	rlRevealIP *keyedLimiter
	rlSaveIP   *keyedLimiter
	rlField    *keyedLimiter
}

// New wires the Mongo-backed key and value stores and builds the server.
func New(ctx context.Context, cfg Config) (*Server, error) {
	cfg.setDefaults()
	if cfg.MongoURI == "" {
		return nil, errors.New("server: MongoURI required")
	}
	if cfg.MongoDB == "" {
		return nil, errors.New("server: MongoDB required")
	}
	if cfg.KeyPassphrase == "" {
		return nil, errors.New("server: KeyPassphrase required")
	}

	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := cli.Ping(pingCtx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}

	keys, err := keystore.NewManager(
		keystore.NewMongoStoreWithClient(cli, cfg.MongoDB, cfg.KeysCollection),
		keystore.Config{Passphrase: []byte(cfg.KeyPassphrase), MaxKeyAge: cfg.MaxKeyAge},
	)
	if err != nil {
		return nil, err
	}

	registry, err := field.NewRegistry(cfg.Fields)
	if err != nil {
		return nil, err
	}

	priv, _, err := auth.GenerateEd25519()
	if err != nil {
		return nil, err
	}

	s, err := NewWith(cfg, Deps{
		Keys:     keys,
		Values:   field.NewMongoValueStoreWithClient(cli, cfg.MongoDB, cfg.FieldsCollection),
		Registry: registry,
		Signer:   auth.NewSigner(priv, cfg.JWTIssuer, cfg.TokenTTL),
	})
	if err != nil {
		return nil, err
	}
	s.storageClient = cli
	return s, nil
}

// NewWith builds the server around explicit collaborators.
func NewWith(cfg Config, deps Deps) (*Server, error) {
	cfg.setDefaults()
	if deps.Keys == nil || deps.Values == nil || deps.Registry == nil || deps.Signer == nil {
		return nil, errors.New("server: missing dependency")
	}
	if deps.Owner == nil {
		deps.Owner = func(claims *auth.Claims, def field.Definition) bool {
			return def.Owner != "" && claims.Sub == def.Owner
		}
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}

	s := &Server{
		cfg:      cfg,
		mux:      http.NewServeMux(),
		signer:   deps.Signer,
		codec:    crypto.NewCodec(deps.Keys),
		keys:     deps.Keys,
		values:   deps.Values,
		registry: deps.Registry,
		ownerOK:  deps.Owner,
		auditLog: audit.New(),
		logger:   deps.Logger,
	}

	s.rlRevealIP = perWindow(30, time.Minute, 10)
	s.rlSaveIP = perWindow(20, time.Minute, 5)
	s.rlField = perWindow(60, time.Minute, 20)

	s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.WithField("panic", rec).Error("request panicked")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}()

	path := r.URL.Path
	if s.isPublic(path) {
		s.mux.ServeHTTP(w, r)
		return
	}

	protected := auth.SessionRequired(s.signer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mux.ServeHTTP(w, r)
	}))
	protected.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler { return s }

func (s *Server) isPublic(path string) bool {
	switch path {
	case "/health":
		return true
	default:
		return false
	}
}

// IssueSession mints an operator session. Identity verification happens in
// the host platform; this is the seam it hands capabilities through.
func (s *Server) IssueSession(sub string, caps []auth.Capability) (auth.Session, error) {
	return s.signer.IssueSession(sub, caps)
}

// Audit exposes the reveal/save/rotate trail.
func (s *Server) Audit() *audit.Log { return s.auditLog }

func (s *Server) Close(ctx context.Context) error {
	if s.storageClient == nil {
		return nil
	}
	return s.storageClient.Disconnect(ctx)
}

func fieldOp(path string) (fieldID, op string, ok bool) {
	rest := strings.TrimPrefix(path, "/secure-fields/")
	if rest == path {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
