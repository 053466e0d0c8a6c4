package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/flowsmith/flowctl/internal/apicatalog"
	"github.com/flowsmith/flowctl/internal/dynamicvalue"
	"github.com/flowsmith/flowctl/internal/execctx"
	"github.com/flowsmith/flowctl/internal/flowerrors"
	"github.com/flowsmith/flowctl/internal/outputwriter"
	"github.com/flowsmith/flowctl/internal/runif"
	"github.com/flowsmith/flowctl/internal/templating"
	"github.com/flowsmith/flowctl/internal/workflowdoc"
)

// invocation is the per-run state of one WorkflowExecutor pass, top-level or
// nested. It embeds *Engine for the shared capabilities and flags.
type invocation struct {
	*Engine
	doc         *workflowdoc.WorkflowDocument
	environment string
	apiBaseURLs map[string]string
	ec          *execctx.ExecutionContext
	workflowDir string
}

// Run executes doc as a fresh top-level workflow invocation.
func (e *Engine) Run(ctx context.Context, doc *workflowdoc.WorkflowDocument, environment string, inputs map[string]string) (*WorkflowExecutionResult, error) {
	ec := execctx.New(inputs, doc.EnvironmentVariables)
	inv := &invocation{
		Engine:      e,
		doc:         doc,
		environment: environment,
		ec:          ec,
		workflowDir: filepath.Dir(doc.FilePath),
	}
	return inv.execute(ctx)
}

// runNested executes a referenced workflow document as a recursive
// invocation, inheriting the parent's context map by copy per
// execctx.NewNested. It also returns the child's resolved
// endStage.result.message, since the parent's Workflow stage needs it for
// workflowResults but the child invocation goes out of scope once execute
// returns.
func (inv *invocation) runNested(ctx context.Context, doc *workflowdoc.WorkflowDocument, inputs map[string]string) (*WorkflowExecutionResult, string, error) {
	child := &invocation{
		Engine:      inv.Engine,
		doc:         doc,
		environment: inv.environment,
		ec:          execctx.NewNested(inv.ec, inputs, doc.EnvironmentVariables),
		workflowDir: filepath.Dir(doc.FilePath),
	}
	result, err := child.execute(ctx)
	if err != nil {
		return nil, "", err
	}
	message, err := child.endResultMessage()
	if err != nil {
		return nil, "", err
	}
	return result, message, nil
}

func (inv *invocation) execute(ctx context.Context) (*WorkflowExecutionResult, error) {
	if err := inv.buildAPIBaseURLs(); err != nil {
		return nil, err
	}
	if !inv.mocked {
		if err := inv.checkRequiredInputs(); err != nil {
			return nil, err
		}
	}
	if err := inv.runInitStage(); err != nil {
		return nil, err
	}
	if err := inv.runStageLoop(ctx); err != nil {
		return nil, err
	}
	output, err := inv.runEndStage()
	if err != nil {
		return nil, err
	}

	result := &WorkflowExecutionResult{Output: output}
	if inv.doc.Definition.Output {
		embedJSON := inv.doc.Definition.EndStage.OutputJSON == nil || *inv.doc.Definition.EndStage.OutputJSON
		path, err := outputwriter.Write(inv.workflowDir, inv.doc.Definition.Name, inv.doc.Definition.ID, output, embedJSON)
		if err != nil {
			return nil, err
		}
		result.OutputFilePath = path
		inv.ec.OutputFilePath = path
	}
	return result, nil
}

func (inv *invocation) buildAPIBaseURLs() error {
	inv.apiBaseURLs = make(map[string]string, len(inv.doc.Definition.References.APIs))
	if len(inv.doc.Definition.References.APIs) == 0 {
		return nil
	}
	version, ok := inv.Catalog.FindVersion(inv.doc.Definition.Version)
	if !ok {
		return flowerrors.Wrap(fmt.Errorf("no catalog entry for version %q", inv.doc.Definition.Version), "resolving API base URLs")
	}
	for _, ref := range inv.doc.Definition.References.APIs {
		def, ok := version.FindDefinition(ref.Definition)
		if !ok {
			return flowerrors.ErrAPIReferenceUnknown(ref.Definition)
		}
		baseURL, ok := version.BaseURLFor(def, inv.environment)
		if !ok {
			return flowerrors.ErrEnvironmentUnknown(inv.environment, ref.Definition)
		}
		inv.apiBaseURLs[ref.Name] = apicatalog.CombineURL(baseURL, def.BasePath)
	}
	return nil
}

func (inv *invocation) checkRequiredInputs() error {
	for _, in := range inv.doc.Definition.Input {
		if !in.Required {
			continue
		}
		if _, ok := inv.ec.Inputs[in.Name]; !ok {
			return flowerrors.ErrMissingRequiredInput(in.Name)
		}
	}
	return nil
}

// runInitStage evaluates initStage.variables via DynamicValueService,
// template-resolving any of a variable's own fields first so that e.g. a
// Fixed value or a DateTime bound may itself reference an input or earlier
// global. Then seeds initStage.context for any key not already present
// (nested runs inherit the parent's context, which wins).
func (inv *invocation) runInitStage() error {
	for _, v := range inv.doc.Definition.InitStage.Variables {
		resolved, err := inv.resolveVariableSpec(v)
		if err != nil {
			return err
		}
		value, err := dynamicvalue.Generate(resolved, inv.Clock)
		if err != nil {
			return flowerrors.Wrap(err, fmt.Sprintf("init-stage variable %q", v.Name))
		}
		inv.ec.Globals[v.Name] = value
	}

	tc := inv.ec.Snapshot(nil, inv.Clock)
	for k, v := range inv.doc.Definition.InitStage.Context {
		if _, exists := inv.ec.Context[k]; exists {
			continue
		}
		resolved, err := templating.Resolve(v, tc)
		if err != nil {
			return err
		}
		inv.ec.Context[k] = resolved
	}
	return nil
}

func (inv *invocation) resolveVariableSpec(v workflowdoc.DynamicVariableSpec) (workflowdoc.DynamicVariableSpec, error) {
	tc := inv.ec.Snapshot(nil, inv.Clock)
	resolveField := func(s string) (string, error) {
		if s == "" {
			return s, nil
		}
		return templating.Resolve(s, tc)
	}
	var err error
	if v.Value, err = resolveField(v.Value); err != nil {
		return v, err
	}
	if v.From, err = resolveField(v.From); err != nil {
		return v, err
	}
	if v.To, err = resolveField(v.To); err != nil {
		return v, err
	}
	return v, nil
}

func (inv *invocation) runStageLoop(ctx context.Context) error {
	stages := inv.doc.Definition.Stages
	nameToIndex := make(map[string]int, len(stages))
	for i, s := range stages {
		nameToIndex[s.Name] = i
	}

	for i := 0; i < len(stages); {
		stage := stages[i]

		if stage.RunIf != "" {
			tc := inv.ec.Snapshot(nil, inv.Clock)
			expr, err := runif.Parse(stage.RunIf)
			if err != nil {
				return err
			}
			if !expr.Evaluate(tc) {
				i++
				continue
			}
		}

		if stage.DelaySeconds > 0 {
			if err := sleepCtx(ctx, time.Duration(stage.DelaySeconds*float64(time.Second))); err != nil {
				return flowerrors.ErrCancelled(err)
			}
		}

		if stage.Debug != nil && inv.debugEnabled {
			inv.logDebugDump(stage)
		}

		indent := strings.Repeat("  ", inv.ec.IndentLevel)
		stageAttrs := slog.Group("stage", "name", stage.Name, "kind", string(stage.Kind))
		started := inv.Clock.UtcNow()
		inv.logger.Info(indent+"stage started", stageAttrs)

		var jumpTarget string
		var err error
		switch stage.Kind {
		case workflowdoc.KindWorkflow:
			err = inv.runWorkflowStage(ctx, stage)
		default:
			jumpTarget, err = inv.runEndpointStage(ctx, stage)
		}
		if err != nil {
			return err
		}
		inv.logger.Info(indent+"stage completed", stageAttrs, "elapsed", inv.Clock.UtcNow().Sub(started))

		if jumpTarget == "" {
			i++
			continue
		}
		if jumpTarget == workflowdoc.EndStageTarget {
			break
		}
		if target, ok := nameToIndex[jumpTarget]; ok {
			i = target
			continue
		}
		i++
	}
	return nil
}

func (inv *invocation) logDebugDump(stage workflowdoc.WorkflowStage) {
	tc := inv.ec.Snapshot(nil, inv.Clock)
	indent := strings.Repeat("  ", inv.ec.IndentLevel)
	for k, v := range stage.Debug {
		resolved, err := templating.Resolve(v, tc)
		if err != nil {
			resolved = fmt.Sprintf("<unresolved: %s>", err.Error())
		}
		inv.logger.Info(indent+"debug", "stage", stage.Name, "key", k, "value", resolved)
	}
}

func (inv *invocation) runEndStage() (map[string]string, error) {
	tc := inv.ec.Snapshot(nil, inv.Clock)
	output := make(map[string]string, len(inv.doc.Definition.EndStage.Output))
	for k, v := range inv.doc.Definition.EndStage.Output {
		resolved, err := templating.Resolve(v, tc)
		if err != nil {
			return nil, err
		}
		output[k] = resolved
	}
	inv.ec.WorkflowOutputs[inv.doc.Definition.Name] = output

	for k, v := range inv.doc.Definition.EndStage.Context {
		resolved, err := templating.Resolve(v, tc)
		if err != nil {
			return nil, err
		}
		inv.ec.Context[k] = resolved
	}
	return output, nil
}

// endResultMessage resolves endStage.result.message, if present, for a
// nested invocation to report to its parent.
func (inv *invocation) endResultMessage() (string, error) {
	if inv.doc.Definition.EndStage.Result == nil || inv.doc.Definition.EndStage.Result.Message == "" {
		return "", nil
	}
	tc := inv.ec.Snapshot(nil, inv.Clock)
	return templating.Resolve(inv.doc.Definition.EndStage.Result.Message, tc)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// pathPlaceholderPattern matches single-brace "{name}" path placeholders,
// distinct from "{{ }}" template tokens which templating.Resolve has
// already expanded by the time this runs.
var pathPlaceholderPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// resolvePathPlaceholders substitutes "{name}" segments in an endpoint path
// from context, then globals, then inputs, in that order. A placeholder
// with no match in any of the three is left verbatim.
func resolvePathPlaceholders(path string, tc execctx.TemplateContext) string {
	return pathPlaceholderPattern.ReplaceAllStringFunc(path, func(match string) string {
		name := match[1 : len(match)-1]
		if v, ok := tc.Context[name]; ok {
			return v
		}
		if v, ok := tc.Globals[name]; ok {
			return v
		}
		if v, ok := tc.Inputs[name]; ok {
			return v
		}
		return match
	})
}
