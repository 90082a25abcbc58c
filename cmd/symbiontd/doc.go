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
Command symbiontd runs the Symbiont cognitive-partner runtime.

The daemon owns the whole pipeline: PII detection and privacy budgets,
the context store, the four ethical gates and their tribunal, model
routing with a built-in on-device backend, the agency/epistemic/drift
monitors, and the self-improvement loop. A single HTTP server exposes
the collaborator API; everything else stays in process and on disk
under the data directory.

# Usage

	symbiontd [flags]

Flags:

	-config path   YAML configuration file (default: $SYMBIONT_CONFIG).
	               Threshold and weight fields reload live on file change;
	               structural fields need a restart.

# Environment Variables

All optional. Secrets are only ever read from the environment or the
encrypted vault, never from the YAML file.

	SYMBIONT_DATA_DIR            state root (default: ~/.symbiont)
	SYMBIONT_LISTEN_ADDR         API listen address (default: :8090)
	SYMBIONT_JWT_SECRET          enables bearer-token auth when set
	SYMBIONT_VAULT_PASSPHRASE    unlocks the credential vault when set
	SYMBIONT_CREDENTIAL_PATH     vault location (default: <data_dir>/credentials)
	SYMBIONT_REDIS_ADDR          enables the external event mirror when set
	SYMBIONT_AUDIT_DSN           enables the Postgres audit journal when set
	SYMBIONT_FACTCHECK_API_KEY   fact-check service key (vault id "factcheck" also works)
	SYMBIONT_FACTCHECK_ENDPOINT  fact-check service URL
	SYMBIONT_ENCYCLOPEDIA_URL    encyclopedia lookup URL for the cascade
	SYMBIONT_MAX_EPSILON         per-user daily privacy budget override
	SYMBIONT_MAX_QUERIES         per-user daily query cap override
	SYMBIONT_RDI_EXPORT_OPT_IN   "true" enables aggregate drift export

# Example

	export SYMBIONT_DATA_DIR="$HOME/.symbiont"
	export SYMBIONT_JWT_SECRET="change-me"
	symbiontd -config /etc/symbiont/config.yaml
*/
package main
