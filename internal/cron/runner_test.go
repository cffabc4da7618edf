package cronrunner

import (
	"context"
	"errors"
	"sync"
	"testing"

	"mtfcascade/internal/service"
	"mtfcascade/internal/timeframe"
)

type fakeCycles struct {
	mu  sync.Mutex
	ran []timeframe.Timeframe
	err error
}

func (f *fakeCycles) Run(_ context.Context, tf timeframe.Timeframe, _ service.CycleOptions) (service.CycleSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, tf)
	return service.CycleSummary{Timeframe: tf, Status: service.CycleCompleted}, f.err
}

type fakeMaintainer struct {
	pruned, swept int
}

func (f *fakeMaintainer) PruneDedup(context.Context) (int64, error) {
	f.pruned++
	return 0, nil
}

func (f *fakeMaintainer) SweepPending(context.Context) (int64, error) {
	f.swept++
	return 0, errors.New("db down")
}

func TestRegisterCycles(t *testing.T) {
	r := New(nil, context.Background())
	cycles := &fakeCycles{}
	err := RegisterCycles(r, cycles, map[string]string{
		"1m": "50 * * * * *",
		"5m": "35 */5 * * * *",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	entries := r.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries=%d want 2", len(entries))
	}
	for _, e := range entries {
		e.WrappedJob.Run()
	}
	if len(cycles.ran) != 2 {
		t.Fatalf("ran=%v", cycles.ran)
	}
}

func TestRegisterCycles_RejectsBadConfig(t *testing.T) {
	cases := []map[string]string{
		{"2h": "0 0 * * * *"},
		{"1m": ""},
		{"1m": "not a spec"},
	}
	for _, specs := range cases {
		if err := RegisterCycles(New(nil, nil), &fakeCycles{}, specs); err == nil {
			t.Fatalf("expected error for %v", specs)
		}
	}
}

func TestRegisterMaintenance(t *testing.T) {
	r := New(nil, nil)
	m := &fakeMaintainer{}
	if err := RegisterMaintenance(r, m, "0 17 3 * * *", "0 */10 * * * *"); err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, e := range r.Entries() {
		e.WrappedJob.Run()
	}
	if m.pruned != 1 || m.swept != 1 {
		t.Fatalf("pruned=%d swept=%d", m.pruned, m.swept)
	}

	r = New(nil, nil)
	if err := RegisterMaintenance(r, m, "", ""); err != nil || len(r.Entries()) != 0 {
		t.Fatalf("empty specs must register nothing, err=%v entries=%d", err, len(r.Entries()))
	}
}

func TestRunner_RecoversPanic(t *testing.T) {
	r := New(nil, nil)
	if _, err := r.Add("boom", "* * * * * *", func(context.Context) error { panic("boom") }); err != nil {
		t.Fatalf("add: %v", err)
	}
	r.Entries()[0].WrappedJob.Run()
}
