package engine

import (
	"fmt"
	"sort"
)

type EnvVars []string

// ConstructEnvs folds key/value maps into a docker-friendly
// []string{"KEY=value", ...} slice. Later maps win on conflict, keys
// within a map are emitted in sorted order so output is stable.
func ConstructEnvs(envMaps ...map[string]string) EnvVars {
	merged := make(map[string]string)
	for _, m := range envMaps {
		for k, v := range m {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var envs EnvVars
	for _, k := range keys {
		envs = append(envs, fmt.Sprintf("%s=%s", k, merged[k]))
	}
	return envs
}

// Slice returns the EnvVar as a []string slice.
func (ev EnvVars) Slice() []string {
	return ev
}

// AddEnv adds a key=value string to the EnvVar.
func (ev *EnvVars) AddEnv(key, value string) {
	*ev = append(*ev, fmt.Sprintf("%s=%s", key, value))
}
