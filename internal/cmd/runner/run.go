package runner

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	cfgpkg "github.com/Phill101/kafka-flow/internal/config"
	"github.com/Phill101/kafka-flow/internal/consumer"
	"github.com/Phill101/kafka-flow/internal/flow"
	"github.com/Phill101/kafka-flow/internal/runtime"
	httpserver "github.com/Phill101/kafka-flow/internal/server/http"
	"github.com/Phill101/kafka-flow/internal/snapshot"
	pebblestore "github.com/Phill101/kafka-flow/internal/storage/pebble"
	"github.com/Phill101/kafka-flow/pkg/id"
	logpkg "github.com/Phill101/kafka-flow/pkg/log"
)

// Run starts the engine and blocks until ctx is cancelled or the consumer
// fails. All resources are released on every exit path.
func Run(ctx context.Context, cfg cfgpkg.Config) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logpkg.ApplyConfig(logpkg.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = cfgpkg.DefaultDataDir()
	}
	fsync, err := pebblestore.ParseFsyncMode(cfg.Fsync)
	if err != nil {
		return err
	}
	rt, err := runtime.Open(runtime.Options{
		DataDir: filepath.Join(dataDir, "store"),
		Fsync:   fsync,
		Config:  cfg,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	instance := id.NewGenerator().Next().String()
	logger.Info("starting kafka-flow",
		logpkg.Str("group", cfg.Group),
		logpkg.Str("application_id", cfg.ApplicationID),
		logpkg.Str("instance_id", instance),
		logpkg.Str("data_dir", dataDir),
		logpkg.Str("status_addr", cfg.StatusAddr),
	)

	store := rt.SnapshotStore(cfg.ApplicationID, cfg.Group)
	cons, err := consumer.New(consumer.Options{
		Brokers:    cfg.Brokers,
		Group:      cfg.Group,
		Topics:     cfg.Topics,
		InstanceID: instance,
		Logger:     logger,
		StateOf: func(tp flow.TopicPartition) (flow.KeyStateOf, error) {
			return snapshot.NewStateOf(snapshot.StateOfOptions{
				Store:          store,
				TopicPartition: tp,
				Logger:         logger,
			})
		},
	})
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	if cfg.StatusAddr != "" {
		srv := httpserver.New(rt, cons)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(sctx, cfg.StatusAddr); err != nil && sctx.Err() == nil {
				logger.Error("status server failed", logpkg.Err(err))
			}
		}()
	}

	runErr := cons.Run(sctx)
	stop()
	wg.Wait()
	return runErr
}
