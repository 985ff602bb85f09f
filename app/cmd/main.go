package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mark47B/gh-context-cache/app/config"
	"github.com/mark47B/gh-context-cache/app/domain/repository"
	"github.com/mark47B/gh-context-cache/app/infrastructure/githost"
	"github.com/mark47B/gh-context-cache/app/infrastructure/logging"
	"github.com/mark47B/gh-context-cache/app/infrastructure/selector"
	"github.com/mark47B/gh-context-cache/app/infrastructure/storage"
	"github.com/mark47B/gh-context-cache/app/infrastructure/transport"
	"github.com/mark47B/gh-context-cache/app/usecase"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	log := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	mainCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Infra
	store := storage.NewCacheStore(mainCtx, cfg, log)
	defer func() {
		if err := store.Close(); err != nil {
			log.Warnf("failed to close cache store: %v", err)
		}
	}()

	cache := usecase.NewCacheFacade(store,
		usecase.WithTTLPolicy(cfg.Cache.TTL.Policy()),
		usecase.WithOpTimeout(cfg.Cache.OpTimeout),
		usecase.WithHealthTimeout(cfg.Cache.HealthTimeout),
		usecase.WithClearTimeout(cfg.Cache.ClearTimeout),
		usecase.WithLogger(log),
	)

	host, err := githost.NewSourceHost(cfg.GitHub.Token, cfg.GitHub.Timeout, githost.WithBaseURL(cfg.GitHub.BaseURL))
	if err != nil {
		log.Fatalf("failed to init github client: %v", err)
	}

	var fileSelector repository.FileSelector
	if cfg.OpenAI.APIKey != "" {
		fileSelector = selector.NewOpenAISelector(selector.OpenAIConfig{
			APIKey:   cfg.OpenAI.APIKey,
			BaseURL:  cfg.OpenAI.BaseURL,
			Model:    cfg.OpenAI.Model,
			MaxFiles: cfg.OpenAI.MaxFiles,
		}, log)
	} else {
		log.Info("no openai api key, selecting files by keyword")
		fileSelector = selector.NewKeywordSelector(cfg.OpenAI.MaxFiles)
	}

	// UseCases
	svc := usecase.NewContextService(cache, host, fileSelector,
		usecase.WithMaxFiles(cfg.OpenAI.MaxFiles),
		usecase.WithFetchConcurrency(cfg.GitHub.FetchConcurrency),
		usecase.WithFetchTimeout(cfg.GitHub.FetchTimeout),
		usecase.WithServiceLogger(log),
	)

	// Transport
	httpServer := transport.NewHTTPServer(cfg.HTTP.Addr, transport.NewRouter(svc, log))
	grpcServer := transport.NewgRPCServer(svc)

	g, gctx := errgroup.WithContext(mainCtx)
	g.Go(func() error {
		return transport.StartHTTPServer(gctx, httpServer)
	})
	if cfg.GRPC.Addr != "" {
		g.Go(func() error {
			return transport.StartgRPCServer(gctx, grpcServer, cfg.GRPC.Addr)
		})
	}

	log.WithFields(logrus.Fields{"backend": store.Name(), "env": cfg.App.Env}).Infof("%s started", cfg.App.Name)
	if err := g.Wait(); err != nil {
		log.Errorf("server stopped with error: %v", err)
		return
	}
	log.Println("server stopped")
}
