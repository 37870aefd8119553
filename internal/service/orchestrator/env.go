package orchestrator

import (
	"os"
	"sort"
	"strings"

	"github.com/llm-bench/llm-bench/internal/config"
	"github.com/llm-bench/llm-bench/pkg/models"
)

// BaseEnv snapshots the current process environment
func BaseEnv() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env
}

// ComposeEnv builds the server environment for one run: the base snapshot,
// then LLAMA_SERVER_BIN and MODEL_PATH, then the run overrides in key order.
// Every value may reference earlier entries as $VAR or ${VAR}; references
// to unset variables are kept verbatim. The base map is never modified.
func ComposeEnv(base map[string]string, run models.RunConfig) map[string]string {
	env := make(map[string]string, len(base)+len(run.Env)+2)
	for k, v := range base {
		env[k] = v
	}

	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	if run.ServerBin != "" {
		env["LLAMA_SERVER_BIN"] = config.ExpandVars(run.ServerBin, lookup)
	}
	if run.ModelPath != "" {
		env["MODEL_PATH"] = config.ExpandVars(run.ModelPath, lookup)
	}

	keys := make([]string, 0, len(run.Env))
	for k := range run.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env[strings.ToUpper(k)] = config.ExpandVars(run.Env[k], lookup)
	}

	return env
}
