package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/espalier/document"
	"github.com/jacentio/espalier/httpapi"
	"github.com/jacentio/espalier/internal/config"
	"github.com/jacentio/espalier/replication"
	"github.com/jacentio/espalier/search"
	"github.com/jacentio/espalier/store"
)

// app holds the handles shared by every command. Commands build one, use it and
// close it; nothing is process-global.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	kv      store.KV
	store   *store.Store
	closers []func() error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}
	kv, err := a.openKV(ctx)
	if err != nil {
		return nil, err
	}
	a.kv = kv
	a.store = store.New(kv, document.PlanSchema(), store.Config{
		MaxDepth: cfg.Store.MaxDepth,
		Logger:   logger,
	})
	return a, nil
}

// close releases handles in reverse order of acquisition.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func (a *app) openKV(ctx context.Context) (store.KV, error) {
	switch a.cfg.Store.Backend {
	case config.BackendBadger:
		bc := store.DefaultBadgerConfig(a.cfg.Store.Badger.Path)
		bc.InMemory = a.cfg.Store.Badger.InMemory
		bc.SyncWrites = a.cfg.Store.Badger.SyncWrites
		bc.Logger = a.logger
		db, err := store.OpenBadger(bc)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		a.logger.Info("using badger store", "path", bc.Path, "in_memory", bc.InMemory)
		return db, nil

	case config.BackendDynamoDB:
		client, err := a.dynamoClient(ctx)
		if err != nil {
			return nil, err
		}
		a.logger.Info("using dynamodb store", "table", a.cfg.Store.DynamoDB.Table)
		return store.NewDynamo(client, a.cfg.Store.DynamoDB.Table), nil

	default:
		a.logger.Warn("using in-memory store; data is lost on exit")
		return store.NewMemory(), nil
	}
}

func (a *app) dynamoClient(ctx context.Context) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region := a.cfg.Store.DynamoDB.Region; region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	endpoint := a.cfg.Store.DynamoDB.Endpoint
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func (a *app) searchWriter() (*search.Writer, error) {
	sc := a.cfg.Search
	es, err := search.NewElastic(search.ElasticConfig{
		Addresses: sc.Addresses,
		Username:  sc.Username,
		Password:  sc.Password,
		APIKey:    sc.APIKey,
		Refresh:   sc.Refresh,
	})
	if err != nil {
		return nil, err
	}
	return search.NewWriter(es, a.store.Schema(), search.WriterConfig{
		Index:     sc.Index,
		JoinField: sc.JoinField,
		Shards:    sc.Shards,
		Replicas:  sc.Replicas,
	}, a.logger), nil
}

func (a *app) deadLetter() replication.DeadLetter {
	if a.cfg.Replication.DeadLetter == config.DeadLetterStore {
		return replication.NewStoreDeadLetter(a.kv, a.logger)
	}
	return replication.NewLogDeadLetter(a.logger)
}

func (a *app) dispatcher(applier replication.Applier) *replication.Dispatcher {
	rc := a.cfg.Replication
	return replication.NewDispatcher(applier, a.deadLetter(), replication.Config{
		Workers:         rc.Workers,
		Buffer:          rc.Buffer,
		MaxAttempts:     rc.MaxAttempts,
		InitialInterval: rc.InitialInterval,
		MaxInterval:     rc.MaxInterval,
	}, a.logger)
}

func (a *app) authenticator() (httpapi.Authenticator, error) {
	ac := a.cfg.Auth
	if !ac.Enabled {
		a.logger.Warn("authentication disabled")
		return httpapi.NopAuthenticator{}, nil
	}
	jc := httpapi.JWTConfig{
		HMACSecret: []byte(ac.HMACSecret),
		Issuer:     ac.Issuer,
		Audience:   ac.Audience,
		Leeway:     ac.Leeway,
	}
	if ac.PublicKeyFile != "" {
		pem, err := os.ReadFile(ac.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
		jc.HMACSecret = nil
		jc.RSAPublicKeyPEM = pem
	}
	return httpapi.NewJWTAuthenticator(jc)
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
