package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/flowsmith/flowctl/internal/execctx"
	"github.com/flowsmith/flowctl/internal/flowerrors"
	"github.com/flowsmith/flowctl/internal/templating"
	"github.com/flowsmith/flowctl/internal/varsfile"
	"github.com/flowsmith/flowctl/internal/workflowdoc"
)

// runWorkflowStage is the NestedWorkflowStageExecutor: it resolves and
// loads the referenced document, builds its inputs (own templates, else a
// sibling ".wfvars" file), recurses, and records the outcome into
// workflowOutputs/workflowResults. A normal execution error is captured as
// a workflowResults Error entry rather than propagated, so one failed
// nested workflow does not abort the parent by default; cancellation
// always still propagates.
func (inv *invocation) runWorkflowStage(ctx context.Context, stage workflowdoc.WorkflowStage) error {
	ref := stage.Workflow

	if inv.mocked && ref.Mock != nil {
		return inv.runMockedWorkflowStage(stage, ref)
	}

	path, err := workflowdoc.ResolveWorkflowRef(inv.doc, ref.WorkflowRef)
	if err != nil {
		return err
	}
	nestedDoc, err := workflowdoc.Load(path, inv.ec.EnvVariables)
	if err != nil {
		return err
	}

	inputs, err := inv.buildNestedInputs(stage, ref, nestedDoc)
	if err != nil {
		return err
	}

	result, message, err := inv.runNested(ctx, nestedDoc, inputs)
	if err != nil {
		if fe := flowerrors.AsFlowError(err); fe != nil && fe.Code == flowerrors.CodeCancelled {
			return err
		}
		inv.ec.WorkflowResults[stage.Name] = execctx.WorkflowResult{
			Status:  execctx.ResultError,
			Message: err.Error(),
		}
		return nil
	}

	inv.ec.WorkflowOutputs[stage.Name] = result.Output
	inv.ec.WorkflowResults[stage.Name] = execctx.WorkflowResult{
		Status:  execctx.ResultOk,
		Message: message,
	}
	return nil
}

// buildNestedInputs resolves stage.workflow.inputs templates if present;
// otherwise, unless the top-level run supplied its own --varsfile override,
// it falls back to a sibling "<name>.wfvars" file resolved for the current
// environment and the nested document's declared version.
func (inv *invocation) buildNestedInputs(stage workflowdoc.WorkflowStage, ref *workflowdoc.WorkflowStageRef, nestedDoc *workflowdoc.WorkflowDocument) (map[string]string, error) {
	if len(ref.Inputs) > 0 {
		tc := inv.ec.Snapshot(nil, inv.Clock)
		inputs := make(map[string]string, len(ref.Inputs))
		for k, v := range ref.Inputs {
			resolved, err := templating.Resolve(v, tc)
			if err != nil {
				return nil, err
			}
			inputs[k] = resolved
		}
		return inputs, nil
	}
	if inv.varsOverrideActive {
		return map[string]string{}, nil
	}

	varsPath := nestedWfvarsPath(nestedDoc.FilePath)
	file, err := varsfile.Load(varsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, flowerrors.Wrap(err, "loading nested workflow vars file")
	}
	resolution, err := file.Resolve(inv.environment, nestedDoc.Definition.Version)
	if err != nil {
		return nil, err
	}
	return resolution.Values, nil
}

// nestedWfvarsPath derives "<name>.wfvars" from a nested workflow
// document's own absolute path, e.g. "/flows/charge.yaml" ->
// "/flows/charge.wfvars".
func nestedWfvarsPath(docPath string) string {
	ext := filepath.Ext(docPath)
	base := strings.TrimSuffix(docPath, ext)
	return base + ".wfvars"
}

func (inv *invocation) runMockedWorkflowStage(stage workflowdoc.WorkflowStage, ref *workflowdoc.WorkflowStageRef) error {
	tc := inv.ec.Snapshot(nil, inv.Clock)
	output := make(map[string]string, len(ref.Mock.Output))
	for k, v := range ref.Mock.Output {
		resolved, err := templating.Resolve(v, tc)
		if err != nil {
			return err
		}
		output[k] = resolved
	}
	inv.ec.WorkflowOutputs[stage.Name] = output
	inv.ec.WorkflowResults[stage.Name] = execctx.WorkflowResult{Status: execctx.ResultOk, Message: "mocked"}
	return nil
}
