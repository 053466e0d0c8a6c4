package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/flowsmith/flowctl/internal/apicatalog"
	"github.com/flowsmith/flowctl/internal/clock"
	"github.com/flowsmith/flowctl/internal/engine"
	"github.com/flowsmith/flowctl/internal/envfile"
	"github.com/flowsmith/flowctl/internal/flowerrors"
	"github.com/flowsmith/flowctl/internal/invoker"
	"github.com/flowsmith/flowctl/internal/varsfile"
	"github.com/flowsmith/flowctl/internal/workflowdoc"
)

const defaultCatalogName = "api-catalog.json"
const defaultInvokerTimeout = 30 * time.Second

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a workflow document",
		Long: `Execute a workflow document against a named environment.

Example:
  flowctl run --workflow charge.yaml --env test
  flowctl run --workflow charge.yaml --env test --varsfile charge.wfvars
  flowctl run --workflow charge.yaml --env test --mocked --debug`,
		RunE: runRun,
	}
	cmd.Flags().String("workflow", "", "path to the workflow document (required)")
	cmd.Flags().String("env", "", "environment name (required)")
	cmd.Flags().String("catalog", "", "path to the API catalog (default: sibling api-catalog.json of the workflow's directory)")
	cmd.Flags().String("envfile", "", "path to a KEY=VALUE environment file")
	cmd.Flags().String("varsfile", "", "path to a .wfvars file supplying this run's own inputs")
	cmd.Flags().Bool("refresh-cache", false, "refresh the API catalog cache (accepted, logged, no-op — cache mechanics are out of scope)")
	cmd.Flags().Bool("dry-run", false, "load, validate, and plan the run without executing any stage")
	cmd.Flags().Bool("mocked", false, "run stages that declare a mock against it instead of performing real invocations; stages without a mock are still invoked")
	cmd.Flags().Bool("verbose", false, "emit additional diagnostic logging, including request bodies on 400 responses")
	cmd.Flags().Bool("debug", false, "print each stage's debug map as it runs")

	cmd.MarkFlagRequired("workflow")
	cmd.MarkFlagRequired("env")

	for _, name := range []string{"workflow", "env", "catalog", "envfile", "varsfile", "refresh-cache", "dry-run", "mocked", "verbose", "debug"} {
		viper.BindPFlag(name, cmd.Flags().Lookup(name))
	}

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	workflowPath := viper.GetString("workflow")
	environment := viper.GetString("env")
	catalogPath := viper.GetString("catalog")
	envfilePath := viper.GetString("envfile")
	varsfilePath := viper.GetString("varsfile")
	refreshCache := viper.GetBool("refresh-cache")
	dryRun := viper.GetBool("dry-run")
	mocked := viper.GetBool("mocked")
	verbose := viper.GetBool("verbose")
	debug := viper.GetBool("debug")

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if refreshCache {
		logger.Info("--refresh-cache accepted (no-op): catalog cache refresh mechanics are out of scope")
	}

	parentEnv := map[string]string{}
	if envfilePath != "" {
		loaded, err := envfile.Load(envfilePath)
		if err != nil {
			return reportAndFail(logger, flowerrors.Wrap(err, "loading --envfile"))
		}
		parentEnv = loaded
	}

	doc, err := workflowdoc.Load(workflowPath, parentEnv)
	if err != nil {
		return reportAndFail(logger, err)
	}

	if catalogPath == "" {
		catalogPath = filepath.Join(filepath.Dir(filepath.Dir(doc.FilePath)), defaultCatalogName)
	}
	catalog, err := apicatalog.Load(catalogPath)
	if err != nil {
		return reportAndFail(logger, err)
	}

	inputs, err := resolveTopLevelInputs(doc, environment, varsfilePath)
	if err != nil {
		return reportAndFail(logger, err)
	}

	if dryRun {
		printPlan(doc, environment, inputs)
		return nil
	}

	eng := engine.New(
		catalog,
		invoker.NewHTTPInvoker(defaultInvokerTimeout),
		clock.System{},
		engine.WithLogger(logger),
		engine.WithMocked(mocked),
		engine.WithVerbose(verbose),
		engine.WithDebugEnabled(debug),
		engine.WithVarsOverrideActive(varsfilePath != ""),
		engine.WithSelfJumpConfirmation(confirmSelfJump),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warn("interrupt received, cancelling run")
		cancel()
	}()

	result, err := eng.Run(ctx, doc, environment, inputs)
	if err != nil {
		return reportAndFail(logger, err)
	}

	fmt.Fprintln(os.Stderr, styleOK.Render("OK"), "workflow completed")
	if result.OutputFilePath != "" {
		fmt.Fprintln(os.Stderr, styleSubtle.Render("output: "+result.OutputFilePath))
	}
	return nil
}

func resolveTopLevelInputs(doc *workflowdoc.WorkflowDocument, environment, varsfilePath string) (map[string]string, error) {
	if varsfilePath == "" {
		return map[string]string{}, nil
	}
	if filepath.Ext(varsfilePath) != ".wfvars" {
		return nil, flowerrors.ErrInvalidVarsFilePath(varsfilePath)
	}
	file, err := varsfile.Load(varsfilePath)
	if err != nil {
		return nil, flowerrors.Wrap(err, "loading --varsfile")
	}
	resolution, err := file.Resolve(environment, doc.Definition.Version)
	if err != nil {
		return nil, err
	}
	return resolution.Values, nil
}

// printPlan renders the --dry-run report: the stage sequence and the
// inputs that would seed the run, without invoking anything.
func printPlan(doc *workflowdoc.WorkflowDocument, environment string, inputs map[string]string) {
	fmt.Fprintln(os.Stderr, styleHeader.Render(fmt.Sprintf("dry run: %s (env=%s)", doc.Definition.Name, environment)))
	for _, in := range doc.Definition.Input {
		value, ok := inputs[in.Name]
		status := styleSubtle.Render("unset")
		if ok {
			status = value
		} else if in.Required {
			status = styleFail.Render("missing (required)")
		}
		fmt.Fprintf(os.Stderr, "  input  %s: %s\n", in.Name, status)
	}
	for i, stage := range doc.Definition.Stages {
		fmt.Fprintf(os.Stderr, "  %2d. %s [%s]\n", i+1, stage.Name, stage.Kind)
	}
}

func reportAndFail(logger *slog.Logger, err error) error {
	if fe := flowerrors.AsFlowError(err); fe != nil {
		fmt.Fprintln(os.Stderr, styleFail.Render("FAIL"), fe.UserMessage())
	} else {
		fmt.Fprintln(os.Stderr, styleFail.Render("FAIL"), err.Error())
	}
	return err
}
