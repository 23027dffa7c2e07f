// Package reconcile drives the framework's remote collections to the empty
// state: gate, list, delete with retry, re-list, report.
package reconcile

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rflorenc/oafctl/internal/logging"
	"github.com/rflorenc/oafctl/internal/models"
)

// Lister returns the identifiers of a resource type.
type Lister interface {
	List(ctx context.Context, rt models.ResourceType) ([]string, error)
}

// API is what the reconciler needs from the framework client.
type API interface {
	Lister
	Remover
}

// Options configures a Reconciler.
type Options struct {
	Concurrency int
	DryRun      bool
	Log         *zap.SugaredLogger
	Metrics     *Metrics
	Printer     models.Printer
}

// Reconciler lists and deletes resources class by class.
type Reconciler struct {
	api         API
	deleter     *Deleter
	concurrency int
	dryRun      bool
	log         *zap.SugaredLogger
	metrics     *Metrics

	mu    sync.Mutex
	print models.Printer
}

// NewReconciler creates a Reconciler using deleter for per-identifier deletes.
func NewReconciler(api API, deleter *Deleter, opts Options) *Reconciler {
	r := &Reconciler{
		api:         api,
		deleter:     deleter,
		concurrency: opts.Concurrency,
		dryRun:      opts.DryRun,
		log:         opts.Log,
		metrics:     opts.Metrics,
		print:       opts.Printer,
	}
	if r.concurrency < 1 {
		r.concurrency = 1
	}
	if r.log == nil {
		r.log = logging.Nop()
	}
	if r.print == nil {
		r.print = models.DiscardPrinter
	}
	return r
}

func (r *Reconciler) printf(level models.Level, format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.print(level, fmt.Sprintf(format, args...))
}

// Reconcile processes each resource type in order and returns the report.
// Per-identifier failures are recorded, never returned.
func (r *Reconciler) Reconcile(ctx context.Context, types []models.ResourceType) *models.Report {
	report := &models.Report{}
	for _, rt := range types {
		if ctx.Err() != nil {
			r.printf(models.LevelWarn, "Interrupted before %s", rt.Label)
			break
		}
		report.Add(r.ReconcileClass(ctx, rt))
	}
	return report
}

// ReconcileClass lists rt, deletes every identifier independently, then
// re-lists to record what remains. The memory store is cleared instead.
func (r *Reconciler) ReconcileClass(ctx context.Context, rt models.ResourceType) models.ClassReport {
	if !rt.Enumerable() {
		return r.clearMemory(ctx, rt)
	}

	r.printf(models.LevelHeading, "Cleaning %s", rt.Label)
	cr := models.ClassReport{Class: rt.Class, Label: rt.Label, DryRun: r.dryRun}

	ids, err := r.api.List(ctx, rt)
	if err != nil {
		cr.ListError = err.Error()
		r.log.Warnw("list failed", "class", rt.Class, "error", err)
		r.printf(models.LevelFail, "Could not list %s: %v", rt.Label, err)
	}
	cr.Found = len(ids)

	if cr.Found == 0 && err == nil {
		r.printf(models.LevelOK, "No %s found", rt.Label)
		r.metrics.observeClass(cr)
		return cr
	}

	if r.dryRun {
		for _, id := range ids {
			r.printf(models.LevelInfo, "Would delete %s", id)
		}
	} else if len(ids) > 0 {
		results := r.deleteAll(ctx, rt, ids)
		for i, res := range results {
			if res.Outcome == models.Succeeded {
				cr.Deleted++
				continue
			}
			cr.Failed++
			cr.FailedIDs = append(cr.FailedIDs, ids[i])
		}
	}

	r.verify(ctx, rt, &cr)
	r.metrics.observeClass(cr)
	return cr
}

// deleteAll runs the deleter for every identifier. Results are indexed like
// ids regardless of completion order.
func (r *Reconciler) deleteAll(ctx context.Context, rt models.ResourceType, ids []string) []DeleteResult {
	results := make([]DeleteResult, len(ids))
	report := func(i int) {
		if results[i].Outcome == models.Succeeded {
			r.printf(models.LevelOK, "Deleted %s", ids[i])
		} else {
			r.printf(models.LevelFail, "Failed to delete %s after %d attempts", ids[i], results[i].Attempts)
		}
	}

	if r.concurrency == 1 {
		for i, id := range ids {
			results[i] = r.deleter.DeleteWithRetry(ctx, rt, id)
			report(i)
		}
		return results
	}

	// Deletes never return an error to the group, so one failure does not
	// cancel the others.
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = r.deleter.DeleteWithRetry(ctx, rt, id)
			report(i)
			return nil
		})
	}
	g.Wait()
	return results
}

// verify re-lists rt after all deletes have settled.
func (r *Reconciler) verify(ctx context.Context, rt models.ResourceType, cr *models.ClassReport) {
	remaining, err := r.api.List(ctx, rt)
	if err != nil {
		cr.Remaining = -1
		cr.VerifyError = err.Error()
		r.log.Warnw("verification list failed", "class", rt.Class, "error", err)
		r.printf(models.LevelWarn, "Could not verify %s: %v", rt.Label, err)
		return
	}
	cr.Remaining = len(remaining)
	cr.RemainingIDs = remaining
	if cr.Remaining > 0 {
		r.printf(models.LevelWarn, "%d %s still present after cleanup", cr.Remaining, rt.Label)
		return
	}
	r.printf(models.LevelOK, "All %s removed", rt.Label)
}

// clearMemory sends one best-effort clear-all request. No retry.
func (r *Reconciler) clearMemory(ctx context.Context, rt models.ResourceType) models.ClassReport {
	r.printf(models.LevelHeading, "Clearing %s", rt.Label)
	cr := models.ClassReport{Class: rt.Class, Label: rt.Label, DryRun: r.dryRun}
	cleared := false
	if r.dryRun {
		r.printf(models.LevelInfo, "Would clear %s", rt.Label)
	} else if err := r.api.Delete(ctx, rt.APIPath); err != nil {
		r.log.Warnw("memory clear failed", "path", rt.APIPath, "error", err)
		r.printf(models.LevelWarn, "Could not clear %s: %v", rt.Label, err)
	} else {
		cleared = true
		r.printf(models.LevelOK, "%s cleared", rt.Label)
	}
	cr.Cleared = &cleared
	r.metrics.observeClass(cr)
	return cr
}

// Verify lists every enumerable type without deleting anything.
func (r *Reconciler) Verify(ctx context.Context, types []models.ResourceType) *models.Report {
	report := &models.Report{}
	for _, rt := range types {
		if !rt.Enumerable() {
			continue
		}
		cr := models.ClassReport{Class: rt.Class, Label: rt.Label}
		ids, err := r.api.List(ctx, rt)
		if err != nil {
			cr.Remaining = -1
			cr.VerifyError = err.Error()
			r.printf(models.LevelFail, "Could not list %s: %v", rt.Label, err)
			report.Add(cr)
			continue
		}
		cr.Found = len(ids)
		cr.Remaining = len(ids)
		cr.RemainingIDs = ids
		if len(ids) == 0 {
			r.printf(models.LevelOK, "%s: none", rt.Label)
		} else {
			r.printf(models.LevelWarn, "%s: %d remaining", rt.Label, len(ids))
		}
		r.metrics.observeClass(cr)
		report.Add(cr)
	}
	return report
}
