package workflowdoc

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/flowsmith/flowctl/internal/envfile"
	"github.com/flowsmith/flowctl/internal/flowerrors"
)

// Load reads and parses a workflow document at path, overlaying its own
// environment file (if references.environmentFile is set) on top of
// parentEnv. Child values win over parent values, so that a caller's
// --envfile still reaches nested workflows unless the nested document
// overrides a key itself.
func Load(path string, parentEnv map[string]string) (*WorkflowDocument, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, flowerrors.ErrWorkflowLoadFailed(path, err)
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, flowerrors.ErrWorkflowLoadFailed(path, err)
	}
	if len(raw) == 0 {
		return nil, flowerrors.ErrWorkflowLoadFailed(path, fmt.Errorf("empty document"))
	}

	var def WorkflowDefinition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, flowerrors.ErrWorkflowLoadFailed(path, err)
	}

	env := make(map[string]string, len(parentEnv))
	for k, v := range parentEnv {
		env[k] = v
	}
	if def.References.EnvironmentFile != "" {
		envPath := def.References.EnvironmentFile
		if !filepath.IsAbs(envPath) {
			envPath = filepath.Join(filepath.Dir(absPath), envPath)
		}
		own, err := envfile.Load(envPath)
		if err != nil {
			return nil, flowerrors.ErrWorkflowLoadFailed(path, fmt.Errorf("environment file %s: %w", envPath, err))
		}
		for k, v := range own {
			env[k] = v
		}
	}

	return &WorkflowDocument{
		Definition:           &def,
		FilePath:             absPath,
		EnvironmentVariables: env,
	}, nil
}

// ResolveWorkflowRef resolves a stage's workflowRef to an absolute path via
// the containing document's references.workflows table, relative to the
// containing document's directory.
func ResolveWorkflowRef(containing *WorkflowDocument, ref string) (string, error) {
	for _, wr := range containing.Definition.References.Workflows {
		if wr.Name == ref {
			p := wr.Path
			if !filepath.IsAbs(p) {
				p = filepath.Join(filepath.Dir(containing.FilePath), p)
			}
			return p, nil
		}
	}
	return "", flowerrors.ErrWorkflowLoadFailed(ref, fmt.Errorf("no workflow reference named %q", ref))
}
