package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fieldsync/internal/dispatcher"
	"fieldsync/internal/models"
)

type fakeRegistry struct {
	mu      sync.Mutex
	configs []models.SyncConfig
}

func (f *fakeRegistry) Get(_ context.Context, target string) (*models.SyncConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.configs {
		if f.configs[i].TargetSystem == target {
			cfg := f.configs[i]
			return &cfg, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeRegistry) ListEnabled(context.Context) ([]models.SyncConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var enabled []models.SyncConfig
	for _, cfg := range f.configs {
		if cfg.Enabled {
			enabled = append(enabled, cfg)
		}
	}
	return enabled, nil
}

func (f *fakeRegistry) Credentials(context.Context, string) (models.Credentials, error) {
	return models.Credentials{}, nil
}

type fakeRunner struct {
	mu     sync.Mutex
	cycles map[string]int
	err    error
	// block, when set for a target, holds its cycle open until closed.
	block map[string]chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{cycles: make(map[string]int)}
}

func (f *fakeRunner) RunCycle(_ context.Context, target string) error {
	f.mu.Lock()
	blocker := f.block[target]
	f.mu.Unlock()
	if blocker != nil {
		<-blocker
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles[target]++
	return f.err
}

func (f *fakeRunner) count(target string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cycles[target]
}

// waitForCount polls until the runner has seen want cycles for target.
func waitForCount(t *testing.T, runner *fakeRunner, target string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runner.count(target) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s cycles = %d, want %d", target, runner.count(target), want)
}

func newTestScheduler(reg *fakeRegistry, runner cycleRunner) *Scheduler {
	logger := zerolog.Nop()
	return New(reg, runner, time.Minute, &logger)
}

func TestRunDueDispatchesDueTargets(t *testing.T) {
	reg := &fakeRegistry{configs: []models.SyncConfig{
		{TargetSystem: "webhook", Enabled: true, AutoSync: true, SyncFrequency: models.FrequencyHourly},
		{TargetSystem: "hr_system", Enabled: true, AutoSync: true, SyncFrequency: models.FrequencyDaily},
	}}
	runner := newFakeRunner()
	s := newTestScheduler(reg, runner)

	s.runDue(context.Background())

	waitForCount(t, runner, "webhook", 1)
	waitForCount(t, runner, "hr_system", 1)
}

func TestRunDueHonorsFrequencyInterval(t *testing.T) {
	reg := &fakeRegistry{configs: []models.SyncConfig{
		{TargetSystem: "webhook", Enabled: true, AutoSync: true, SyncFrequency: models.FrequencyHourly},
	}}
	runner := newFakeRunner()
	s := newTestScheduler(reg, runner)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	s.runDue(context.Background())
	waitForCount(t, runner, "webhook", 1)

	// Полчаса спустя интервал ещё не истёк.
	s.now = func() time.Time { return base.Add(30 * time.Minute) }
	s.runDue(context.Background())
	time.Sleep(20 * time.Millisecond)
	if runner.count("webhook") != 1 {
		t.Fatalf("cycles = %d, want 1 before interval elapsed", runner.count("webhook"))
	}

	s.now = func() time.Time { return base.Add(time.Hour) }
	s.runDue(context.Background())
	waitForCount(t, runner, "webhook", 2)
}

func TestRunDueSkipsManualAndNonAutoTargets(t *testing.T) {
	reg := &fakeRegistry{configs: []models.SyncConfig{
		{TargetSystem: "manual_only", Enabled: true, AutoSync: true, SyncFrequency: models.FrequencyManual},
		{TargetSystem: "auto_off", Enabled: true, AutoSync: false, SyncFrequency: models.FrequencyHourly},
	}}
	runner := newFakeRunner()
	s := newTestScheduler(reg, runner)

	s.runDue(context.Background())
	time.Sleep(20 * time.Millisecond)

	if runner.count("manual_only") != 0 {
		t.Errorf("manual-frequency target dispatched on timer")
	}
	if runner.count("auto_off") != 0 {
		t.Errorf("auto-sync-disabled target dispatched on timer")
	}
}

func TestRunDueSkipsDisabledTargets(t *testing.T) {
	reg := &fakeRegistry{configs: []models.SyncConfig{
		{TargetSystem: "off", Enabled: false, AutoSync: true, SyncFrequency: models.FrequencyHourly},
	}}
	runner := newFakeRunner()
	s := newTestScheduler(reg, runner)

	s.runDue(context.Background())
	time.Sleep(20 * time.Millisecond)

	if runner.count("off") != 0 {
		t.Fatalf("disabled target dispatched")
	}
}

func TestRunDueSeesConfigChanges(t *testing.T) {
	reg := &fakeRegistry{configs: []models.SyncConfig{
		{TargetSystem: "webhook", Enabled: false, AutoSync: true, SyncFrequency: models.FrequencyHourly},
	}}
	runner := newFakeRunner()
	s := newTestScheduler(reg, runner)

	s.runDue(context.Background())
	time.Sleep(20 * time.Millisecond)
	if runner.count("webhook") != 0 {
		t.Fatalf("disabled target dispatched")
	}

	// Включение подхватывается на следующем тике без рестарта.
	reg.mu.Lock()
	reg.configs[0].Enabled = true
	reg.mu.Unlock()

	s.runDue(context.Background())
	waitForCount(t, runner, "webhook", 1)
}

func TestRunDueSlowTargetDoesNotBlockOthers(t *testing.T) {
	reg := &fakeRegistry{configs: []models.SyncConfig{
		{TargetSystem: "slow", Enabled: true, AutoSync: true, SyncFrequency: models.FrequencyHourly},
		{TargetSystem: "fast", Enabled: true, AutoSync: true, SyncFrequency: models.FrequencyHourly},
	}}
	runner := newFakeRunner()
	release := make(chan struct{})
	runner.block = map[string]chan struct{}{"slow": release}
	s := newTestScheduler(reg, runner)

	s.runDue(context.Background())

	// Быстрая цель завершается, пока медленная ещё в работе.
	waitForCount(t, runner, "fast", 1)
	if runner.count("slow") != 0 {
		t.Fatalf("slow cycle finished unexpectedly early")
	}

	close(release)
	waitForCount(t, runner, "slow", 1)
}

type fakeSweeper struct {
	mu     sync.Mutex
	sweeps int
}

func (f *fakeSweeper) FailOrphanRecords(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 1, nil
}

func (f *fakeSweeper) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps
}

func TestRunSweepsOrphanRecordsEveryTick(t *testing.T) {
	reg := &fakeRegistry{}
	runner := newFakeRunner()
	logger := zerolog.Nop()
	s := New(reg, runner, 20*time.Millisecond, &logger)

	sweeper := &fakeSweeper{}
	s.SetOrphanSweeper(sweeper)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && sweeper.count() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if sweeper.count() < 2 {
		t.Fatalf("sweeps = %d, want at least 2", sweeper.count())
	}
}

func TestTriggerSyncBypassesSchedule(t *testing.T) {
	reg := &fakeRegistry{configs: []models.SyncConfig{
		{TargetSystem: "manual_only", Enabled: true, AutoSync: false, SyncFrequency: models.FrequencyManual},
	}}
	runner := newFakeRunner()
	s := newTestScheduler(reg, runner)

	if err := s.TriggerSync(context.Background(), "manual_only"); err != nil {
		t.Fatalf("TriggerSync failed: %v", err)
	}
	if runner.count("manual_only") != 1 {
		t.Fatalf("cycles = %d, want 1", runner.count("manual_only"))
	}
}

func TestTriggerSyncPropagatesDisabledError(t *testing.T) {
	reg := &fakeRegistry{}
	runner := newFakeRunner()
	runner.err = dispatcher.ErrTargetDisabled
	s := newTestScheduler(reg, runner)

	if err := s.TriggerSync(context.Background(), "off"); !errors.Is(err, dispatcher.ErrTargetDisabled) {
		t.Fatalf("err = %v, want ErrTargetDisabled", err)
	}
}

func TestTriggerSyncResetsSchedule(t *testing.T) {
	reg := &fakeRegistry{configs: []models.SyncConfig{
		{TargetSystem: "webhook", Enabled: true, AutoSync: true, SyncFrequency: models.FrequencyHourly},
	}}
	runner := newFakeRunner()
	s := newTestScheduler(reg, runner)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	if err := s.TriggerSync(context.Background(), "webhook"); err != nil {
		t.Fatalf("TriggerSync failed: %v", err)
	}

	// Таймер не должен сработать раньше интервала после ручного запуска.
	s.now = func() time.Time { return base.Add(10 * time.Minute) }
	s.runDue(context.Background())
	time.Sleep(20 * time.Millisecond)
	if runner.count("webhook") != 1 {
		t.Fatalf("cycles = %d, want 1 shortly after manual run", runner.count("webhook"))
	}
}
