// Command qserver runs the experiment queue manager: the persistent plan
// queue, the manager state machine, the worker supervisor, and the
// request/reply RPC surface clients use to drive all of it.
//
// # Configuration
//
// Environment variables:
//
//	QSERVER_ADDR                   - RPC listen address (default: ":60615")
//	QSERVER_STORE_PATH             - persisted image path (default: "qserver.db.json")
//	QSERVER_WORKER_COMMAND         - worker executable (default: "qworker")
//	QSERVER_PING_INTERVAL          - worker ping interval (default: "5s")
//	QSERVER_MISSED_PING_THRESHOLD  - missed pings before worker_died (default: 3)
//	QSERVER_PULSE_ENABLED          - publish run-list changes to Pulse (default: false)
//	REDIS_URL                      - Redis address backing Pulse, when enabled (default: "localhost:6379")
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/bluesky-project/qserver/internal/catalogue/memory"
	"github.com/bluesky-project/qserver/internal/config"
	"github.com/bluesky-project/qserver/internal/ident"
	"github.com/bluesky-project/qserver/internal/manager"
	"github.com/bluesky-project/qserver/internal/rpc"
	"github.com/bluesky-project/qserver/internal/rpc/nexusrpc"
	"github.com/bluesky-project/qserver/internal/runtracker"
	"github.com/bluesky-project/qserver/internal/runtracker/pulsesink"
	"github.com/bluesky-project/qserver/internal/store"
	"github.com/bluesky-project/qserver/internal/telemetry"
	"github.com/bluesky-project/qserver/internal/worker"
	"github.com/bluesky-project/qserver/internal/worker/procworker"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg := config.FromEnv()
	logger := telemetry.NewClueLogger()

	var sink runtracker.Sink
	if cfg.PulseStreamEnabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		defer func() {
			if err := rdb.Close(); err != nil {
				fmt.Printf("close redis: %v\n", err)
			}
		}()
		ps, err := pulsesink.NewSink(pulsesink.Options{Redis: rdb})
		if err != nil {
			return fmt.Errorf("create pulse sink: %w", err)
		}
		sink = ps
	}

	cat := memory.New(memory.Snapshot{})

	mgrCfg := manager.Config{
		Catalogue:           cat,
		WorkerFactory:       workerFactory(cfg.WorkerCommand, cfg.WorkerArgs),
		Store:               store.New(cfg.StorePath),
		UIDs:                ident.New(),
		RunSink:             sink,
		PingInterval:        cfg.PingInterval,
		MissedPingThreshold: cfg.MissedPingThreshold,
		Telemetry:           logger,
		Metrics:             telemetry.NewClueMetrics(),
		Tracer:              telemetry.NewClueTracer(),
	}

	selfSup := manager.NewSelfSupervisor(mgrCfg)

	dispatcher := &rpc.Dispatcher{
		CurrentManager: selfSup.Current,
		OnManagerStop: func(option string) {
			go func() {
				logger.Info(context.Background(), "manager_stop requested, exiting", "option", option)
				os.Exit(0)
			}()
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", rpcHandler(dispatcher))
	if nh, err := nexusrpc.NewHandler(dispatcher); err == nil {
		mux.Handle("/nexus/", http.StripPrefix("/nexus", nh))
	} else {
		logger.Warn(context.Background(), "nexus front end disabled", "error", err)
	}

	logger.Info(context.Background(), "starting qserver", "addr", cfg.ListenAddr)
	return http.ListenAndServe(cfg.ListenAddr, mux)
}

func workerFactory(command string, args []string) manager.WorkerFactory {
	return func(ctx context.Context) (worker.Transport, error) {
		return procworker.Spawn(ctx, procworker.Options{Command: command, Args: args})
	}
}

func rpcHandler(d *rpc.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpc.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		env, hasReply := d.Handle(r.Context(), req)
		if !hasReply {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(env)
	}
}
