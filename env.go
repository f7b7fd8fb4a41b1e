package dappkit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Anchored environment variable names.
const (
	EnvPWD         = "PWD"
	EnvDappPath    = "DAPP_PATH"
	EnvDiagramPath = "DIAGRAM_PATH"
	EnvToolPath    = "DAPPKIT_PATH"
	EnvPkgPath     = "PKG_PATH"
	EnvNodePath    = "NODE_PATH"
)

// LookupFunc reports the value of an environment variable. os.LookupEnv is
// the production implementation.
type LookupFunc func(key string) (string, bool)

// Env holds the anchored paths the orchestrator and its subordinate
// processes agree on. A value already present in the inherited environment
// always wins over the computed default. Env never writes to the process
// environment; subordinate processes receive it through Environ.
type Env struct {
	PWD         string
	DappPath    string
	DiagramPath string
	ToolPath    string
	PkgPath     string

	// ModuleSearchPaths lists node_modules directories found walking up from
	// ToolPath, nearest first, followed by any inherited NODE_PATH entries.
	ModuleSearchPaths []string
}

// ResolveEnv computes an Env. cwd and toolPath are the defaults for PWD and
// DAPPKIT_PATH when the lookup has no value for them.
func ResolveEnv(lookup LookupFunc, cwd, toolPath string) (*Env, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	anchored := func(key, def string) (string, error) {
		if v, ok := lookup(key); ok && v != "" {
			return v, nil
		}
		if def == "" {
			return "", fmt.Errorf("%w: %s", ErrAnchorNotSet, key)
		}
		return def, nil
	}

	env := &Env{}
	var err error
	if env.PWD, err = anchored(EnvPWD, cwd); err != nil {
		return nil, err
	}
	if env.DappPath, err = anchored(EnvDappPath, env.PWD); err != nil {
		return nil, err
	}
	if env.DiagramPath, err = anchored(EnvDiagramPath, filepath.Join(env.DappPath, "diagram.svg")); err != nil {
		return nil, err
	}
	if env.ToolPath, err = anchored(EnvToolPath, toolPath); err != nil {
		return nil, err
	}
	if env.PkgPath, err = anchored(EnvPkgPath, env.PWD); err != nil {
		return nil, err
	}

	env.ModuleSearchPaths = findNodeModules(env.ToolPath)
	if inherited, ok := lookup(EnvNodePath); ok && inherited != "" {
		for _, p := range filepath.SplitList(inherited) {
			if p != "" {
				env.ModuleSearchPaths = append(env.ModuleSearchPaths, p)
			}
		}
	}
	return env, nil
}

// DappJoin joins path elements onto the dapp path. Absolute first elements
// are returned unchanged.
func (e *Env) DappJoin(elem ...string) string {
	if len(elem) > 0 && filepath.IsAbs(elem[0]) {
		return filepath.Join(elem...)
	}
	return filepath.Join(append([]string{e.DappPath}, elem...)...)
}

// Environ returns os.Environ with the anchored values and NODE_PATH
// overridden, suitable for exec.Cmd.Env of a subordinate process.
func (e *Env) Environ() []string {
	overrides := map[string]string{
		EnvPWD:         e.PWD,
		EnvDappPath:    e.DappPath,
		EnvDiagramPath: e.DiagramPath,
		EnvToolPath:    e.ToolPath,
		EnvPkgPath:     e.PkgPath,
		EnvNodePath:    strings.Join(e.ModuleSearchPaths, string(os.PathListSeparator)),
	}

	base := os.Environ()
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, replaced := overrides[key]; replaced {
			continue
		}
		out = append(out, kv)
	}
	for _, key := range []string{EnvPWD, EnvDappPath, EnvDiagramPath, EnvToolPath, EnvPkgPath, EnvNodePath} {
		out = append(out, key+"="+overrides[key])
	}
	return out
}

// findNodeModules walks from start to the filesystem root collecting every
// node_modules directory, skipping consecutive duplicates.
func findNodeModules(start string) []string {
	if start == "" {
		return nil
	}
	dir, err := filepath.Abs(start)
	if err != nil {
		return nil
	}

	var found []string
	for {
		candidate := filepath.Join(dir, "node_modules")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			if len(found) == 0 || found[len(found)-1] != candidate {
				found = append(found, candidate)
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return found
		}
		dir = parent
	}
}
