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

/*
Package logger provides structured JSON logging for Symbiont runtime
components.

# Overview

The logger outputs single-line JSON to stdout so entries are directly
consumable by whatever log collector wraps the process.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (orchestrator, router, privacy, etc.)
  - Instance ID and host (for correlating multiple runtimes)
  - User ID (for per-user pipeline isolation)
  - Request ID (for request correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("orchestrator")

Log messages with user and request context:

	log.Info("alice", "req-456", "Stage completed", map[string]interface{}{
	    "stage": "gate-evaluation",
	})

Log errors with the pipeline error kind:

	log.ErrorWithKind("alice", "req-456", "Execution failed",
	    "execution-failed", err, nil)

Log with duration tracking:

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration("alice", "req-456", "Request completed",
	    float64(time.Since(start).Milliseconds()), nil)

# Environment Variables

  - SYMBIONT_INSTANCE_ID: runtime instance identifier (defaults to "local")

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
