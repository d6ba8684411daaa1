package risk

import (
	"sync"
	"testing"
	"time"

	"polyshadow/internal/config"
	"polyshadow/internal/profiler"
)

func newTestManager() *Manager {
	return NewManager(config.RiskConfig{SignalTTL: 10 * time.Minute}, nil)
}

func sig(addr, side, outcome string, score int, arch profiler.Archetype) Signal {
	return Signal{
		Address:     addr,
		Side:        side,
		Outcome:     outcome,
		FollowScore: score,
		Archetype:   arch,
		SeenAt:      time.Now(),
	}
}

func TestAssessNoPeers(t *testing.T) {
	m := newTestManager()
	res := m.Assess("c1", sig("0xa", "BUY", "Yes", 7, profiler.ArchetypeSniper))
	if res.Action != ActionProceed || res.Multiplier != 1.0 {
		t.Fatalf("got %s x%v, want PROCEED x1.0", res.Action, res.Multiplier)
	}
}

func TestAssessStrongerOpponentReduces(t *testing.T) {
	m := newTestManager()
	m.Record("c1", sig("0xb", "BUY", "No", 9, profiler.ArchetypeSniper))
	res := m.Assess("c1", sig("0xa", "BUY", "Yes", 6, profiler.ArchetypeWhale))
	if res.Action != ActionReduce {
		t.Fatalf("action = %s, want REDUCE", res.Action)
	}
	if res.Multiplier != 0.3 {
		t.Fatalf("multiplier = %v, want 0.3", res.Multiplier)
	}
}

func TestAssessEqualOpponentSkips(t *testing.T) {
	m := newTestManager()
	m.Record("c1", sig("0xb", "SELL", "Yes", 6, profiler.ArchetypeWhale))
	res := m.Assess("c1", sig("0xa", "BUY", "Yes", 6, profiler.ArchetypeWhale))
	if res.Action != ActionSkip {
		t.Fatalf("action = %s, want SKIP", res.Action)
	}
	if res.Multiplier != 0 {
		t.Fatalf("multiplier = %v, want 0", res.Multiplier)
	}
}

func TestAssessWeakerOpponentProceeds(t *testing.T) {
	m := newTestManager()
	m.Record("c1", sig("0xb", "BUY", "No", 3, profiler.ArchetypeWhale))
	res := m.Assess("c1", sig("0xa", "BUY", "Yes", 8, profiler.ArchetypeSniper))
	if res.Action != ActionProceed {
		t.Fatalf("action = %s, want PROCEED", res.Action)
	}
	if res.Multiplier != 1.0 {
		t.Fatalf("multiplier = %v, want 1.0", res.Multiplier)
	}
}

func TestAssessNoiseOppositionBoosts(t *testing.T) {
	m := newTestManager()
	m.Record("c1", sig("0xb", "BUY", "No", 2, profiler.ArchetypeNoise))
	res := m.Assess("c1", sig("0xa", "BUY", "Yes", 8, profiler.ArchetypeSniper))
	if res.Multiplier != 1.3 {
		t.Fatalf("multiplier = %v, want 1.3 against noise-grade opposition", res.Multiplier)
	}
	if !res.NoiseConfirmed {
		t.Fatalf("noise confirmation flag not set")
	}
}

func TestAssessConvergenceAmplifies(t *testing.T) {
	m := newTestManager()
	m.Record("c1", sig("0xb", "BUY", "Yes", 7, profiler.ArchetypeSniper))
	m.Record("c1", sig("0xc", "BUY", "Yes", 6, profiler.ArchetypeWhale))
	res := m.Assess("c1", sig("0xa", "BUY", "Yes", 8, profiler.ArchetypeSniper))
	if res.Action != ActionAmplify {
		t.Fatalf("action = %s, want AMPLIFY", res.Action)
	}
	if res.Multiplier < 1.2 {
		t.Fatalf("multiplier = %v, want >= 1.2", res.Multiplier)
	}
	if res.ConvergenceCount != 3 {
		t.Fatalf("convergence count = %d, want 3", res.ConvergenceCount)
	}

	// Assessing again without new signals must give the same verdict.
	again := m.Assess("c1", sig("0xa", "BUY", "Yes", 8, profiler.ArchetypeSniper))
	if again.Action != res.Action || again.Multiplier != res.Multiplier {
		t.Fatalf("repeat assessment changed: %s x%v vs %s x%v",
			again.Action, again.Multiplier, res.Action, res.Multiplier)
	}
}

func TestAssessAmplifyCapsAt150(t *testing.T) {
	m := newTestManager()
	for _, addr := range []string{"0xb", "0xc", "0xd", "0xe"} {
		m.Record("c1", sig(addr, "BUY", "Yes", 6, profiler.ArchetypeWhale))
	}
	res := m.Assess("c1", sig("0xa", "BUY", "Yes", 8, profiler.ArchetypeSniper))
	if res.Multiplier != 1.5 {
		t.Fatalf("multiplier = %v, want capped 1.5", res.Multiplier)
	}
}

func TestSignalExpiry(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	m.nowFunc = func() time.Time { return now }
	m.Record("c1", sig("0xb", "BUY", "No", 9, profiler.ArchetypeSniper))

	// Jump past the TTL: the opposing signal must no longer count.
	m.nowFunc = func() time.Time { return now.Add(11 * time.Minute) }
	res := m.Assess("c1", sig("0xa", "BUY", "Yes", 5, profiler.ArchetypeWhale))
	if res.Action != ActionProceed {
		t.Fatalf("action = %s, want PROCEED after signal expiry", res.Action)
	}
	if m.Snapshot()["c1"] != 0 {
		t.Fatalf("expired signals still visible in snapshot")
	}
}

// Exercises Record and Assess from parallel goroutines on one market with a
// short TTL, so pruning constantly compacts the signal slice while it is
// being scanned. Run with the race detector.
func TestConcurrentRecordAndAssess(t *testing.T) {
	m := NewManager(config.RiskConfig{SignalTTL: time.Millisecond}, nil)
	for i := 0; i < 8; i++ {
		m.Record("c1", sig("0xseed", "BUY", "Yes", 5, profiler.ArchetypeWhale))
	}

	var wg sync.WaitGroup
	for _, addr := range []string{"0xb", "0xc", "0xd"} {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				m.Record("c1", sig(addr, "BUY", "No", 9, profiler.ArchetypeSniper))
			}
		}(addr)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			res := m.Assess("c1", sig("0xa", "BUY", "Yes", 6, profiler.ArchetypeWhale))
			if res.Multiplier < 0 {
				t.Errorf("multiplier = %v", res.Multiplier)
				return
			}
		}
	}()
	wg.Wait()
}

func TestOwnSignalIgnored(t *testing.T) {
	m := newTestManager()
	m.Record("c1", sig("0xa", "BUY", "Yes", 8, profiler.ArchetypeSniper))
	res := m.Assess("c1", sig("0xa", "BUY", "Yes", 8, profiler.ArchetypeSniper))
	if res.Action != ActionProceed || res.ConvergenceCount != 0 {
		t.Fatalf("own prior signal should not converge with itself: %+v", res)
	}
}
