package dispatcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jpequegn/nextrun/internal/events"
	"github.com/jpequegn/nextrun/internal/procrunner"
	"github.com/jpequegn/nextrun/internal/profile"
	"github.com/jpequegn/nextrun/internal/query"
	"github.com/jpequegn/nextrun/internal/testlist"
	"github.com/jpequegn/nextrun/internal/testsettings"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func baseResolver(t *testing.T, groupConfig map[string]testsettings.GroupConfig) *profile.Resolver {
	t.Helper()
	p := &profile.Profile{
		Name:            "default",
		BaseSettings:    testsettings.Defaults(),
		TestGroupConfig: groupConfig,
	}
	return profile.NewResolver(p, "linux", "linux")
}

func instanceFor(bin string, name string) *testlist.TestInstance {
	binary := &testlist.TestBinary{Path: bin, PackageID: "pkg", BinaryName: "bin", Kind: "lib", Platform: query.Target}
	return &testlist.TestInstance{Binary: binary, TestName: name}
}

func collectingReporter() (events.Reporter, func() []events.TestEvent) {
	var mu sync.Mutex
	var all []events.TestEvent
	return func(ev events.TestEvent) error {
			mu.Lock()
			defer mu.Unlock()
			all = append(all, ev)
			return nil
		}, func() []events.TestEvent {
			mu.Lock()
			defer mu.Unlock()
			out := make([]events.TestEvent, len(all))
			copy(out, all)
			return out
		}
}

func TestDispatcherRunAllPass(t *testing.T) {
	bin := writeScript(t, "exit 0")
	list := &testlist.TestList{Instances: []*testlist.TestInstance{
		instanceFor(bin, "a"), instanceFor(bin, "b"), instanceFor(bin, "c"),
	}}

	reporter, all := collectingReporter()
	d := New(Config{
		RunID:    uuid.New(),
		Resolver: baseResolver(t, nil),
		Reporter: reporter,
		Capture:  procrunner.Combined,
	}, 4, nil)

	err := d.Run(context.Background(), list)
	require.NoError(t, err)

	var finished int
	var runFinished *events.TestEvent
	for _, ev := range all() {
		if ev.Kind == events.TestFinished {
			finished++
		}
		if ev.Kind == events.RunFinished {
			e := ev
			runFinished = &e
		}
	}
	require.Equal(t, 3, finished)
	require.NotNil(t, runFinished)
	require.Equal(t, 3, runFinished.Stats.Passed)
	require.Equal(t, 3, runFinished.Stats.FinishedCount)
}

func TestDispatcherGroupConcurrencyBound(t *testing.T) {
	var running int32
	var maxSeen int32
	bin := writeScript(t, `
sleep 0.1
`)
	group, err := testsettings.NewCustomGroup("serial")
	require.NoError(t, err)

	p := &profile.Profile{
		Name: "default",
		BaseSettings: testsettings.TestSettings{
			ThreadsRequired: 1,
			SlowTimeout:     testsettings.DefaultSlowTimeout,
			LeakTimeout:     testsettings.DefaultLeakTimeout,
			TestGroup:       group,
		},
		TestGroupConfig: map[string]testsettings.GroupConfig{"serial": {MaxThreads: 1}},
	}
	resolver := profile.NewResolver(p, "linux", "linux")

	instances := make([]*testlist.TestInstance, 0, 5)
	for i := 0; i < 5; i++ {
		instances = append(instances, instanceFor(bin, "t"))
	}
	list := &testlist.TestList{Instances: instances}

	reporter := func(ev events.TestEvent) error {
		if ev.Kind == events.TestStarted {
			n := atomic.AddInt32(&running, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
		}
		if ev.Kind == events.TestFinished {
			atomic.AddInt32(&running, -1)
		}
		return nil
	}

	d := New(Config{
		RunID:    uuid.New(),
		Resolver: resolver,
		Reporter: reporter,
		Capture:  procrunner.Combined,
	}, 4, p.TestGroupConfig)

	require.NoError(t, d.Run(context.Background(), list))
	require.LessOrEqual(t, int(atomic.LoadInt32(&maxSeen)), 1)
}

func TestDispatcherFailFastStopsAdmittingNewTests(t *testing.T) {
	failBin := writeScript(t, "exit 1")
	instances := make([]*testlist.TestInstance, 0, 10)
	for i := 0; i < 10; i++ {
		instances = append(instances, instanceFor(failBin, "t"))
	}
	list := &testlist.TestList{Instances: instances}

	reporter, all := collectingReporter()
	d := New(Config{
		RunID:    uuid.New(),
		Resolver: baseResolver(t, nil),
		Reporter: reporter,
		Capture:  procrunner.Combined,
		FailFast: true,
	}, 1, nil) // serialize so fail-fast has a chance to stop later admissions

	require.NoError(t, d.Run(context.Background(), list))

	var finished, beginCancel int
	for _, ev := range all() {
		if ev.Kind == events.TestFinished {
			finished++
		}
		if ev.Kind == events.RunBeginCancel {
			beginCancel++
			require.Equal(t, events.TestFailure, ev.Reason)
		}
	}
	// test_threads=1 serializes admission, so fail-fast must stop after
	// exactly the one instance that triggered it: no blocked Acquire may be
	// admitted once cancellation has fired, even when its wakeup races with
	// the triggering instance's Release.
	require.Equal(t, 1, finished)
	require.Equal(t, 1, beginCancel)
}

type fakeShutdownSource struct {
	mu     sync.Mutex
	events []events.ShutdownEvent
	idx    int
}

func (f *fakeShutdownSource) Recv(ctx context.Context) (events.ShutdownEvent, error) {
	for {
		f.mu.Lock()
		if f.idx < len(f.events) {
			ev := f.events[f.idx]
			f.idx++
			f.mu.Unlock()
			return ev, nil
		}
		f.mu.Unlock()
		select {
		case <-ctx.Done():
			return events.ShutdownEvent{}, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func TestDispatcherSignalStopsAdmission(t *testing.T) {
	slowBin := writeScript(t, "sleep 2")
	instances := make([]*testlist.TestInstance, 0, 10)
	for i := 0; i < 10; i++ {
		instances = append(instances, instanceFor(slowBin, "t"))
	}
	list := &testlist.TestList{Instances: instances}

	reporter, _ := collectingReporter()
	shutdown := &fakeShutdownSource{events: []events.ShutdownEvent{{Kind: events.Interrupt}}}

	d := New(Config{
		RunID:    uuid.New(),
		Resolver: baseResolver(t, nil),
		Reporter: reporter,
		Capture:  procrunner.Combined,
		Shutdown: shutdown,
	}, 2, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, d.Run(ctx, list))
	require.GreaterOrEqual(t, d.cancelState(), events.Signal)
}
