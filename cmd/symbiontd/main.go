// Copyright 2025 Symbiont
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"symbiont/core/api"
	"symbiont/core/config"
	"symbiont/core/events"
	"symbiont/core/feedback"
	"symbiont/core/gates"
	"symbiont/core/llm"
	"symbiont/core/memory"
	"symbiont/core/monitor"
	"symbiont/core/orchestrator"
	"symbiont/core/privacy"
	"symbiont/core/router"
	"symbiont/core/storage"
	"symbiont/core/storage/journal"
	"symbiont/core/vault"
)

// shutdownTimeout bounds how long in-flight requests may take to drain
// after a termination signal.
const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("SYMBIONT_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatalf("[Symbiontd] %v", err)
	}
}

func run(configPath string) error {
	log.Printf("[Symbiontd] Starting Symbiont runtime %s", api.Version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	files, err := storage.New(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open data directory: %w", err)
	}
	log.Printf("[Symbiontd] State root: %s", cfg.DataDir)

	// The audit journal degrades to a no-op without a DSN; nothing else
	// changes between the two modes.
	jrnl := journal.New(cfg.Journal.PostgresDSN, cfg.Journal.QueueSize)
	defer jrnl.Close()
	if cfg.Journal.PostgresDSN != "" {
		log.Printf("[Symbiontd] Audit journal: postgres")
	}

	// Secrets come from the environment first, the vault second. The
	// vault stays closed without a passphrase.
	if pass := os.Getenv("SYMBIONT_VAULT_PASSPHRASE"); pass != "" {
		creds, err := vault.Open(cfg.CredentialFile(), []byte(pass))
		if err != nil {
			return fmt.Errorf("failed to open credential vault: %w", err)
		}
		if cfg.Monitor.FactCheckAPIKey == "" {
			if key, err := creds.Get("factcheck"); err == nil {
				cfg.Monitor.FactCheckAPIKey = key
			}
		}
		log.Printf("[Symbiontd] Credential vault: %d secrets", len(creds.Providers()))
	}

	bus := events.NewBus(cfg.Events.BufferSize)
	if cfg.Events.RedisAddr != "" {
		mirror, err := events.NewMirror(cfg.Events.RedisAddr, cfg.Events.RedisChannel)
		if err != nil {
			// The in-process bus is the source of truth; a dead mirror
			// only costs external visibility.
			log.Printf("[Symbiontd] Event mirror disabled: %v", err)
		} else {
			bus.AttachMirror(mirror)
			defer mirror.Close()
			log.Printf("[Symbiontd] Event mirror: %s", cfg.Events.RedisAddr)
		}
	}

	eng, err := privacy.NewEngine(cfg.Privacy, files, jrnl)
	if err != nil {
		return fmt.Errorf("failed to build privacy engine: %w", err)
	}
	mem, err := memory.NewContextStore(cfg.Memory, files)
	if err != nil {
		return fmt.Errorf("failed to open context store: %w", err)
	}

	gateSystem := gates.NewSystem(cfg.Gates, jrnl)
	tribunal := gates.NewTribunal(cfg.Gates, jrnl)

	loop, err := feedback.NewLoop(cfg.Feedback, files)
	if err != nil {
		return fmt.Errorf("failed to build feedback loop: %w", err)
	}

	// A nil checker selects the built-in fact-check cascade.
	suite, err := monitor.NewSuite(cfg.Monitor, files, bus, loop, nil)
	if err != nil {
		return fmt.Errorf("failed to build monitor suite: %w", err)
	}

	rt := router.New(cfg.Router, nil, files)
	rt.RegisterAdapter(llm.NewLocal())

	pipe, err := orchestrator.New(orchestrator.Deps{
		Privacy:  eng,
		Memory:   mem,
		Gates:    gateSystem,
		Tribunal: tribunal,
		Router:   rt,
		Monitors: suite,
		Feedback: loop,
		Bus:      bus,
		Journal:  jrnl,
	})
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	srv, err := api.NewServer(cfg.API, api.Deps{
		Pipeline: pipe,
		Router:   rt,
		Privacy:  eng,
		Memory:   mem,
		Monitors: suite,
		Feedback: loop,
		Bus:      bus,
	})
	if err != nil {
		return fmt.Errorf("failed to build API server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go loop.Run(ctx)

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath)
		if err != nil {
			log.Printf("[Symbiontd] Config reload disabled: %v", err)
		} else {
			watcher.OnReload(func(next *config.Config) {
				gateSystem.Reload(next.Gates)
				tribunal.Reload(next.Gates)
				suite.Reload(next.Monitor)
			})
			go watcher.Run(ctx)
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	log.Printf("[Symbiontd] Collaborator API listening on %s", cfg.API.ListenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("[Symbiontd] Received %v, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Symbiontd] API shutdown: %v", err)
	}

	// Stop the evaluation loop and the config watcher, then let pending
	// fact checks finish so no detected debt is lost.
	cancel()
	suite.Wait()

	log.Printf("[Symbiontd] Shutdown complete")
	return nil
}
