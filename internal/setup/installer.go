package setup

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rflorenc/oafctl/internal/logging"
	"github.com/rflorenc/oafctl/internal/models"
	"github.com/rflorenc/oafctl/internal/platform"
	"github.com/rflorenc/oafctl/internal/reconcile"
)

// Options configures an Installer.
type Options struct {
	Endpoints models.Endpoints
	Log       *zap.SugaredLogger
	Printer   models.Printer
}

// Installer creates, runs and removes a Bundle on the framework.
type Installer struct {
	api       platform.API
	deleter   *reconcile.Deleter
	endpoints models.Endpoints
	log       *zap.SugaredLogger
	print     models.Printer
}

// New creates an Installer. Clean deletes through deleter.
func New(api platform.API, deleter *reconcile.Deleter, opts Options) *Installer {
	in := &Installer{
		api:       api,
		deleter:   deleter,
		endpoints: opts.Endpoints,
		log:       opts.Log,
		print:     opts.Printer,
	}
	if in.endpoints == (models.Endpoints{}) {
		in.endpoints = models.DefaultEndpoints()
	}
	if in.log == nil {
		in.log = logging.Nop()
	}
	if in.print == nil {
		in.print = models.DiscardPrinter
	}
	return in
}

func (in *Installer) printf(level models.Level, format string, args ...interface{}) {
	in.print(level, fmt.Sprintf(format, args...))
}

// Summary counts what Setup did.
type Summary struct {
	Created     int
	Existing    int
	Failed      int
	FailedNames []string
}

// OK reports whether every definition is now present.
func (s Summary) OK() bool {
	return s.Failed == 0
}

// Setup makes sure every agent and then every workflow of b exists. Existing
// definitions are left alone. A failed creation is counted and setup moves on.
// An invalid bundle is rejected before any request is made.
func (in *Installer) Setup(ctx context.Context, b Bundle) (Summary, error) {
	var sum Summary
	if err := b.Validate(); err != nil {
		return sum, fmt.Errorf("invalid bundle: %w", err)
	}

	// ensure creates name at rt unless it is already listed.
	ensure := func(rt models.ResourceType, existing map[string]bool, name string, payload interface{}) {
		if existing[name] {
			in.printf(models.LevelInfo, "%s already exists", name)
			sum.Existing++
			return
		}
		_, status, err := in.api.Post(ctx, rt.APIPath, payload)
		switch {
		case err == nil:
			in.printf(models.LevelOK, "Created %s", name)
			sum.Created++
		case status == http.StatusConflict:
			in.printf(models.LevelInfo, "%s already exists", name)
			sum.Existing++
		default:
			in.log.Warnw("create failed", "class", rt.Class, "name", name, "error", err)
			in.printf(models.LevelFail, "Failed to create %s: %v", name, err)
			sum.Failed++
			sum.FailedNames = append(sum.FailedNames, name)
		}
	}

	agents, err := in.endpoints.Lookup(models.Agent)
	if err != nil {
		return sum, err
	}
	in.printf(models.LevelHeading, "Creating agents")
	existing, err := in.listed(ctx, agents)
	if err != nil {
		return sum, err
	}
	for _, a := range b.Agents {
		ensure(agents, existing, a.Name, a)
	}

	workflows, err := in.endpoints.Lookup(models.Workflow)
	if err != nil {
		return sum, err
	}
	in.printf(models.LevelHeading, "Creating workflows")
	existing, err = in.listed(ctx, workflows)
	if err != nil {
		return sum, err
	}
	for _, wf := range b.Workflows {
		ensure(workflows, existing, wf.Name, wf)
	}
	return sum, nil
}

func (in *Installer) listed(ctx context.Context, rt models.ResourceType) (map[string]bool, error) {
	ids, err := in.api.List(ctx, rt)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", rt.Label, err)
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// Clean deletes the bundle's workflows and then its agents, leaving anything
// else on the framework untouched.
func (in *Installer) Clean(ctx context.Context, b Bundle) *models.Report {
	report := &models.Report{}
	for _, part := range []struct {
		class models.ResourceClass
		names []string
	}{
		{models.Workflow, b.WorkflowNames()},
		{models.Agent, b.AgentNames()},
	} {
		if ctx.Err() != nil {
			break
		}
		rt, err := in.endpoints.Lookup(part.class)
		if err != nil {
			continue
		}
		report.Add(in.cleanClass(ctx, rt, part.names))
	}
	return report
}

func (in *Installer) cleanClass(ctx context.Context, rt models.ResourceType, names []string) models.ClassReport {
	in.printf(models.LevelHeading, "Removing %s", rt.Label)
	cr := models.ClassReport{Class: rt.Class, Label: rt.Label}

	present, err := in.listed(ctx, rt)
	if err != nil {
		cr.ListError = err.Error()
		cr.Remaining = -1
		in.printf(models.LevelFail, "Could not list %s: %v", rt.Label, err)
		return cr
	}

	for _, name := range names {
		if !present[name] {
			continue
		}
		cr.Found++
		res := in.deleter.DeleteWithRetry(ctx, rt, name)
		if res.Outcome == models.Succeeded {
			cr.Deleted++
			in.printf(models.LevelOK, "Deleted %s", name)
			continue
		}
		cr.Failed++
		cr.FailedIDs = append(cr.FailedIDs, name)
		in.printf(models.LevelFail, "Failed to delete %s after %d attempts", name, res.Attempts)
	}
	if cr.Found == 0 {
		in.printf(models.LevelOK, "No bundle %s found", rt.Label)
		return cr
	}

	after, err := in.listed(ctx, rt)
	if err != nil {
		cr.Remaining = -1
		cr.VerifyError = err.Error()
		in.printf(models.LevelWarn, "Could not verify %s: %v", rt.Label, err)
		return cr
	}
	for _, name := range names {
		if after[name] {
			cr.RemainingIDs = append(cr.RemainingIDs, name)
		}
	}
	cr.Remaining = len(cr.RemainingIDs)
	if cr.Remaining > 0 {
		in.printf(models.LevelWarn, "%d %s still present", cr.Remaining, rt.Label)
	}
	return cr
}

// Execute runs workflow with the given input context and returns the raw
// response body.
func (in *Installer) Execute(ctx context.Context, workflow string, input map[string]interface{}) ([]byte, error) {
	path := in.endpoints.Workflows + "/" + platform.EscapeID(workflow) + "/execute"
	body, _, err := in.api.Post(ctx, path, models.ExecuteRequest{Context: input})
	if err != nil {
		return nil, fmt.Errorf("executing %s: %w", workflow, err)
	}
	return body, nil
}

// Warmup executes each bundle workflow once so the framework loads its
// models. Failures are warnings; it returns how many executions failed.
func (in *Installer) Warmup(ctx context.Context, b Bundle, purl string) int {
	failed := 0
	for _, name := range b.WorkflowNames() {
		in.printf(models.LevelHeading, "Warming up %s", name)
		start := time.Now()
		if _, err := in.Execute(ctx, name, map[string]interface{}{InputKey: purl}); err != nil {
			failed++
			in.log.Warnw("warmup failed", "workflow", name, "error", err)
			in.printf(models.LevelWarn, "Warmup of %s failed: %v", name, err)
			continue
		}
		in.printf(models.LevelOK, "%s ready (%s)", name, time.Since(start).Round(time.Millisecond))
	}
	return failed
}

// Test executes workflow for purl and returns the response body.
func (in *Installer) Test(ctx context.Context, workflow, purl string) ([]byte, error) {
	in.printf(models.LevelHeading, "Analyzing %s with %s", purl, workflow)
	body, err := in.Execute(ctx, workflow, map[string]interface{}{InputKey: purl})
	if err != nil {
		in.printf(models.LevelFail, "%v", err)
		return nil, err
	}
	in.printf(models.LevelOK, "%s completed", workflow)
	return body, nil
}
