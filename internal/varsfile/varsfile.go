// Package varsfile parses and resolves ".wfvars" files: a layered
// global -> environment -> (environment, version) key/value source used to
// seed nested workflow inputs when a Workflow stage supplies none of its
// own.
package varsfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/flowsmith/flowctl/internal/flowerrors"
)

// SourceKind identifies which layer a resolved value came from.
type SourceKind int

const (
	SourceGlobal SourceKind = iota
	SourceEnvironment
	SourceVersion
)

// Source describes the winning layer for one resolved key.
type Source struct {
	Kind    SourceKind
	Env     string
	Version string
}

func (s Source) String() string {
	switch s.Kind {
	case SourceGlobal:
		return "global"
	case SourceEnvironment:
		return fmt.Sprintf("env(%s)", s.Env)
	default:
		return fmt.Sprintf("version(%s,%s)", s.Env, s.Version)
	}
}

// scopeKey identifies one (env, version) bucket; version == "" is the
// environment-level bucket, env == "" is the global bucket.
type scopeKey struct {
	env     string
	version string
}

// File is a parsed vars file, ready to be resolved for a given
// (environment, version) pair.
type File struct {
	global map[string]string
	scopes map[scopeKey]map[string]string
	// envsSeen records every environment name the file declares, to
	// support the "declared environments but not this one" check.
	envsSeen map[string]bool
}

// Load parses a .wfvars file from disk.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a .wfvars document from r.
func Parse(r io.Reader) (*File, error) {
	file := &File{
		global:   make(map[string]string),
		scopes:   make(map[scopeKey]map[string]string),
		envsSeen: make(map[string]bool),
	}

	scanner := bufio.NewScanner(r)
	var curEnv string
	var curVersion string
	inGlobal := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if isScopeHeader(line) {
			name := strings.TrimSuffix(line, ":")
			if name == "global" {
				inGlobal = true
				curEnv = ""
				curVersion = ""
			} else {
				inGlobal = false
				curEnv = name
				curVersion = ""
				file.envsSeen[curEnv] = true
			}
			continue
		}

		key, value, ok := splitKeyValue(line)
		if !ok {
			continue
		}

		if key == "version" && !inGlobal && curEnv != "" {
			curVersion = value
			continue
		}

		switch {
		case inGlobal:
			file.global[key] = value
		case curVersion != "":
			k := scopeKey{env: curEnv, version: curVersion}
			if file.scopes[k] == nil {
				file.scopes[k] = make(map[string]string)
			}
			file.scopes[k][key] = value
		case curEnv != "":
			k := scopeKey{env: curEnv}
			if file.scopes[k] == nil {
				file.scopes[k] = make(map[string]string)
			}
			file.scopes[k][key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return file, nil
}

func isScopeHeader(line string) bool {
	if !strings.HasSuffix(line, ":") {
		return false
	}
	body := strings.TrimSuffix(line, ":")
	if body == "" || strings.ContainsAny(body, " \t") {
		return false
	}
	return true
}

func splitKeyValue(line string) (key, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:idx])
	value = strings.TrimSpace(line[idx+1:])
	if key == "" {
		return "", "", false
	}
	return key, value, true
}

// Resolution is the result of resolving a File for a specific
// (environment, version) pair.
type Resolution struct {
	Values  map[string]string
	Sources map[string]Source
}

// Resolve layers global -> environment -> (environment, version), each
// overriding the former, and records the winning source per key.
func (f *File) Resolve(environment, version string) (*Resolution, error) {
	if len(f.global) == 0 && len(f.envsSeen) > 0 && !f.envsSeen[environment] {
		return nil, flowerrors.ErrVarsMissingEnvironment(environment)
	}

	res := &Resolution{
		Values:  make(map[string]string),
		Sources: make(map[string]Source),
	}
	for k, v := range f.global {
		res.Values[k] = v
		res.Sources[k] = Source{Kind: SourceGlobal}
	}
	if env, ok := f.scopes[scopeKey{env: environment}]; ok {
		for k, v := range env {
			res.Values[k] = v
			res.Sources[k] = Source{Kind: SourceEnvironment, Env: environment}
		}
	}
	if version != "" {
		if ev, ok := f.scopes[scopeKey{env: environment, version: version}]; ok {
			for k, v := range ev {
				res.Values[k] = v
				res.Sources[k] = Source{Kind: SourceVersion, Env: environment, Version: version}
			}
		}
	}
	return res, nil
}
