// Command lineaged runs one participant of a multi-writer linearized
// log: it opens local storage, bootstraps (or resumes) the orchestrator,
// and serves the control-plane HTTP API until it is told to stop.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/lineage/lineage/autobase"
	"github.com/lineage/lineage/httpapi"
	"github.com/lineage/lineage/internal/config"
	"github.com/lineage/lineage/internal/logging"
	"github.com/lineage/lineage/storage"
	"github.com/lineage/lineage/view"
	"github.com/lineage/lineage/writer"
)

func main() {
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		fmt.Println("Config file error:", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log.AppLogFile, cfg.Log.Level)
	if err != nil {
		fmt.Println("Failed to initialize logger:", err)
		os.Exit(1)
	}

	log.Info("Starting lineage server...")

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		log.Fatal("Failed to open storage", zap.Error(err))
	}
	defer store.Close()

	localKey := cfg.LocalKey
	if localKey == "" {
		localKey = writer.GenerateKey()
		log.Info("minted new local writer key", zap.String("key", localKey))
	}

	base, err := autobase.Open(store, autobase.Options{
		LocalKey:  localKey,
		Bootstrap: cfg.Bootstrap,
		Sparse:    cfg.Sparse,
		Logger:    log,
		Open: func(s *view.Store, b *autobase.Autobase) (any, error) {
			return s.Get("default", view.Options{})
		},
		Apply: func(batch []autobase.BatchItem, userView any, b *autobase.Autobase) error {
			v := userView.(*view.View)
			for _, item := range batch {
				if err := v.Append(item.Value); err != nil {
					return err
				}
			}
			return nil
		},
	})
	if err != nil {
		log.Fatal("Failed to open autobase", zap.Error(err))
	}
	defer base.Close()

	h := httpapi.NewHandler(base, log)
	r := mux.NewRouter()
	httpapi.RegisterRoutes(r, h)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Info("Server stopped", zap.Error(err))
		}
	}()

	log.Info("Server running on port", zap.Int("port", cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutdown signal received, exiting...")
	srv.Close()
}
