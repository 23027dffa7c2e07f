package reconcile

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rflorenc/oafctl/internal/apitest"
	"github.com/rflorenc/oafctl/internal/models"
	"github.com/rflorenc/oafctl/internal/platform"
)

type lineRecorder struct {
	mu     sync.Mutex
	levels []models.Level
	lines  []string
}

func (r *lineRecorder) print(level models.Level, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels = append(r.levels, level)
	r.lines = append(r.lines, line)
}

func (r *lineRecorder) count(level models.Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.levels {
		if l == level {
			n++
		}
	}
	return n
}

type fixture struct {
	srv     *apitest.Server
	rec     *lineRecorder
	metrics *Metrics
	r       *Reconciler
}

func newFixture(t *testing.T, opts Options, delOpts ...DeleterOption) *fixture {
	t.Helper()
	srv := apitest.New()
	t.Cleanup(srv.Close)

	client := platform.NewClient(srv.URL, time.Second)
	rec := &lineRecorder{}
	m := NewMetrics()
	opts.Printer = rec.print
	opts.Metrics = m

	delOpts = append([]DeleterOption{WithAttempts(3), WithDelay(time.Millisecond), WithMetrics(m)}, delOpts...)
	d := NewDeleter(client, delOpts...)
	return &fixture{srv: srv, rec: rec, metrics: m, r: NewReconciler(client, d, opts)}
}

func TestReconcileClass_AllDeleted(t *testing.T) {
	f := newFixture(t, Options{})
	f.srv.SeedNames("/agents", "a1", "a2")

	cr := f.r.ReconcileClass(context.Background(), resourceType(t, models.Agent))

	assert.Equal(t, 2, cr.Found)
	assert.Equal(t, 2, cr.Deleted)
	assert.Equal(t, 0, cr.Failed)
	assert.Equal(t, 0, cr.Remaining)
	assert.True(t, cr.Converged())
	assert.Equal(t, 1, f.srv.CountCalls("DELETE", "/agents/a1"))
	assert.Equal(t, 1, f.srv.CountCalls("DELETE", "/agents/a2"))
	assert.Equal(t, 2, f.srv.CountCalls("GET", "/agents"), "one listing plus one verification")

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Found.WithLabelValues("agents")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Deleted.WithLabelValues("agents")))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.Remaining.WithLabelValues("agents")))
}

func TestReconcileClass_ScheduleDeleteExhausted(t *testing.T) {
	f := newFixture(t, Options{})
	f.srv.SeedIDs("/schedule", "s1")
	f.srv.FailDelete("/schedule/s1", -1)

	cr := f.r.ReconcileClass(context.Background(), resourceType(t, models.ScheduledTask))

	assert.Equal(t, 1, cr.Found)
	assert.Equal(t, 0, cr.Deleted)
	assert.Equal(t, 1, cr.Failed)
	assert.Equal(t, 1, cr.Remaining)
	assert.Equal(t, []string{"s1"}, cr.FailedIDs)
	assert.Equal(t, []string{"s1"}, cr.RemainingIDs)
	assert.False(t, cr.Converged())
	assert.Equal(t, 3, f.srv.CountCalls("DELETE", "/schedule/s1"))
	assert.Equal(t, 1, f.rec.count(models.LevelWarn), "remaining items produce a warning")
}

func TestReconcileClass_EmptyCollections(t *testing.T) {
	bodies := map[string]string{
		"empty array": `[]`,
		"null":        `null`,
		"malformed":   `{"error": "oops"`,
		"not a list":  `{"agents": []}`,
		"no body":     ``,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, Options{})
			f.srv.SetListBody("/agents", body)

			cr := f.r.ReconcileClass(context.Background(), resourceType(t, models.Agent))

			assert.Equal(t, 0, cr.Found)
			assert.Equal(t, 0, cr.Remaining)
			assert.Empty(t, cr.ListError)
			assert.True(t, cr.Converged())
			assert.Equal(t, 0, f.srv.CountMethod("DELETE"))
		})
	}
}

func TestReconcileClass_SkipsMalformedEntries(t *testing.T) {
	f := newFixture(t, Options{})
	f.srv.Seed("/agents",
		models.Resource{"name": "good"},
		models.Resource{"role": "no name"},
		models.Resource{"name": ""},
	)

	cr := f.r.ReconcileClass(context.Background(), resourceType(t, models.Agent))

	assert.Equal(t, 1, cr.Found)
	assert.Equal(t, 1, cr.Deleted)
	// The nameless entries stay behind but are not listable identifiers.
	assert.Equal(t, 0, cr.Remaining)
}

func TestReconcileClass_FailureIsolation(t *testing.T) {
	f := newFixture(t, Options{})
	f.srv.SeedNames("/agents", "a1", "a2", "a3")
	f.srv.FailDelete("/agents/a2", -1)

	cr := f.r.ReconcileClass(context.Background(), resourceType(t, models.Agent))

	assert.Equal(t, 3, cr.Found)
	assert.Equal(t, 2, cr.Deleted)
	assert.Equal(t, 1, cr.Failed)
	assert.Equal(t, []string{"a2"}, cr.FailedIDs)
	assert.Equal(t, []string{"a2"}, f.srv.Identifiers("/agents"))
	assert.Equal(t, 1, f.srv.CountCalls("DELETE", "/agents/a3"), "a3 attempted after a2 exhausted")
}

func TestReconcileClass_TransientFailureRecovers(t *testing.T) {
	f := newFixture(t, Options{})
	f.srv.SeedNames("/workflows", "wf1")
	f.srv.FailDelete("/workflows/wf1", 2)

	cr := f.r.ReconcileClass(context.Background(), resourceType(t, models.Workflow))

	assert.Equal(t, 1, cr.Deleted)
	assert.Equal(t, 0, cr.Failed)
	assert.Equal(t, 3, f.srv.CountCalls("DELETE", "/workflows/wf1"))
}

func TestReconcileClass_Concurrent(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4})
	var names []string
	for i := 0; i < 12; i++ {
		names = append(names, fmt.Sprintf("agent-%02d", i))
	}
	f.srv.SeedNames("/agents", names...)
	f.srv.FailDelete("/agents/agent-03", -1)
	f.srv.FailDelete("/agents/agent-09", -1)

	cr := f.r.ReconcileClass(context.Background(), resourceType(t, models.Agent))

	assert.Equal(t, 12, cr.Found)
	assert.Equal(t, 10, cr.Deleted)
	assert.Equal(t, []string{"agent-03", "agent-09"}, cr.FailedIDs, "failures reported in listing order")
	assert.Equal(t, 2, cr.Remaining)
}

func TestReconcileClass_DryRun(t *testing.T) {
	f := newFixture(t, Options{DryRun: true})
	f.srv.SeedNames("/agents", "a1", "a2")

	cr := f.r.ReconcileClass(context.Background(), resourceType(t, models.Agent))

	assert.True(t, cr.DryRun)
	assert.Equal(t, 2, cr.Found)
	assert.Equal(t, 0, cr.Deleted)
	assert.Equal(t, 2, cr.Remaining)
	assert.Equal(t, 0, f.srv.CountMethod("DELETE"))
}

func TestReconcileClass_Memory(t *testing.T) {
	f := newFixture(t, Options{})

	cr := f.r.ReconcileClass(context.Background(), resourceType(t, models.MemoryStore))

	require.NotNil(t, cr.Cleared)
	assert.True(t, *cr.Cleared)
	assert.Equal(t, 1, f.srv.MemoryClears())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MemoryCleared))
}

func TestReconcileClass_MemoryFailureNotRetried(t *testing.T) {
	rm := &scriptedRemover{failures: -1}
	api := struct {
		Lister
		Remover
	}{Remover: rm}
	r := NewReconciler(api, NewDeleter(rm, WithDelay(time.Millisecond)), Options{})

	cr := r.ReconcileClass(context.Background(), resourceType(t, models.MemoryStore))

	require.NotNil(t, cr.Cleared)
	assert.False(t, *cr.Cleared)
	assert.Equal(t, 1, rm.calls())
}

func TestReconcileClass_Unreachable(t *testing.T) {
	srv := apitest.New()
	url := srv.URL
	srv.Close()

	client := platform.NewClient(url, time.Second)
	r := NewReconciler(client, NewDeleter(client, WithDelay(time.Millisecond)), Options{})

	cr := r.ReconcileClass(context.Background(), resourceType(t, models.Agent))

	assert.NotEmpty(t, cr.ListError)
	assert.NotEmpty(t, cr.VerifyError)
	assert.Equal(t, -1, cr.Remaining)
	assert.False(t, cr.Converged())
}

func TestReconcile_FullRunConverges(t *testing.T) {
	f := newFixture(t, Options{})
	f.srv.SeedNames("/agents", "a1", "a2")
	f.srv.SeedNames("/workflows", "wf1")
	f.srv.SeedIDs("/schedule", "s1", "s2")

	report := f.r.Reconcile(context.Background(), models.DefaultEndpoints().Registry())

	require.Len(t, report.Classes, 4)
	assert.False(t, report.Warnings())
	found, deleted, failed, remaining := report.Totals()
	assert.Equal(t, 5, found)
	assert.Equal(t, 5, deleted)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 0, remaining)

	assert.Empty(t, f.srv.Identifiers("/agents"))
	assert.Empty(t, f.srv.Identifiers("/workflows"))
	assert.Empty(t, f.srv.Identifiers("/schedule"))
	assert.Equal(t, 1, f.srv.MemoryClears())

	// A second run finds nothing and deletes nothing.
	before := f.srv.CountMethod("DELETE")
	again := f.r.Reconcile(context.Background(), models.DefaultEndpoints().Registry())
	assert.False(t, again.Warnings())
	assert.Equal(t, before+1, f.srv.CountMethod("DELETE"), "only the memory clear is repeated")
}

func TestReconcile_FailureDoesNotStopOtherClasses(t *testing.T) {
	f := newFixture(t, Options{})
	f.srv.SeedIDs("/schedule", "s1")
	f.srv.FailDelete("/schedule/s1", -1)
	f.srv.SeedNames("/agents", "a1")

	report := f.r.Reconcile(context.Background(), models.DefaultEndpoints().Registry())

	assert.True(t, report.Warnings())
	assert.Empty(t, f.srv.Identifiers("/agents"))
	assert.Equal(t, []string{"s1"}, f.srv.Identifiers("/schedule"))
}

func TestReconcile_MissingIdentifierIsExhausted(t *testing.T) {
	f := newFixture(t, Options{})
	// ghost is listed but the framework answers 404 when it is deleted.
	f.srv.SetListBody("/schedule", `[{"id":"ghost"},{"id":"s2"}]`)
	f.srv.SeedIDs("/schedule", "s2")
	f.srv.SeedNames("/workflows", "wf1")
	f.srv.SeedNames("/agents", "a1")

	report := f.r.Reconcile(context.Background(), models.DefaultEndpoints().Registry())

	require.Len(t, report.Classes, 4)
	sched := report.Classes[0]
	assert.Equal(t, models.ScheduledTask, sched.Class)
	assert.Equal(t, []string{"ghost"}, sched.FailedIDs)
	assert.Equal(t, 1, sched.Deleted)
	assert.Equal(t, 3, f.srv.CountCalls("DELETE", "/schedule/ghost"))
	assert.Equal(t, 1, f.srv.CountCalls("DELETE", "/schedule/s2"))

	var order []string
	for _, c := range f.srv.Calls() {
		if c.Method == "DELETE" {
			order = append(order, c.Path)
		}
	}
	assert.Equal(t, []string{
		"/schedule/ghost", "/schedule/ghost", "/schedule/ghost",
		"/schedule/s2", "/workflows/wf1", "/agents/a1", "/memory/clear-all",
	}, order)

	assert.Empty(t, f.srv.Identifiers("/workflows"))
	assert.Empty(t, f.srv.Identifiers("/agents"))
	assert.Equal(t, 1, f.srv.MemoryClears())
	assert.True(t, report.Warnings())
}

func TestReconcile_DryRunHasNoWarnings(t *testing.T) {
	f := newFixture(t, Options{DryRun: true})
	f.srv.SeedNames("/agents", "a1")

	report := f.r.Reconcile(context.Background(), models.DefaultEndpoints().Registry())

	require.Len(t, report.Classes, 4)
	assert.False(t, report.Warnings())
	assert.Equal(t, 0, f.srv.CountMethod("DELETE"))
}

func TestReconcile_StopsWhenCancelled(t *testing.T) {
	f := newFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := f.r.Reconcile(ctx, models.DefaultEndpoints().Registry())

	assert.Empty(t, report.Classes)
	assert.Empty(t, f.srv.Calls())
}

func TestVerify(t *testing.T) {
	f := newFixture(t, Options{})
	f.srv.SeedNames("/workflows", "wf1", "wf2")

	report := f.r.Verify(context.Background(), models.DefaultEndpoints().Registry())

	require.Len(t, report.Classes, 3, "memory is not enumerable")
	for _, cr := range report.Classes {
		if cr.Class == models.Workflow {
			assert.Equal(t, 2, cr.Remaining)
			assert.Equal(t, []string{"wf1", "wf2"}, cr.RemainingIDs)
		} else {
			assert.Equal(t, 0, cr.Remaining)
		}
	}
	assert.True(t, report.Warnings())
	assert.Equal(t, 0, f.srv.CountMethod("DELETE"))
}
