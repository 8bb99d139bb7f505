package launch

import (
	"errors"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/MrEthical07/trustplane/ratelimit"
)

func seeded() func() float64 {
	return rand.New(rand.NewPCG(7, 11)).Float64
}

func TestGateCanaryZeroPercentDeniesAll(t *testing.T) {
	c := NewController(Mode{Canary: true, TrafficPercentage: 0}, WithRand(seeded()))

	for i := 0; i < 10000; i++ {
		if c.GateCanary() {
			t.Fatalf("draw %d admitted at 0%%", i)
		}
	}
}

func TestGateCanaryFullPercentAdmitsAll(t *testing.T) {
	c := NewController(Mode{Canary: true, TrafficPercentage: 100}, WithRand(seeded()))

	for i := 0; i < 10000; i++ {
		if !c.GateCanary() {
			t.Fatalf("draw %d denied at 100%%", i)
		}
	}
}

func TestGateCanaryApproximatesPercentage(t *testing.T) {
	c := NewController(Mode{Canary: true, TrafficPercentage: 25}, WithRand(seeded()))

	admitted := 0
	const trials = 10000
	for i := 0; i < trials; i++ {
		if c.GateCanary() {
			admitted++
		}
	}

	if admitted < 2200 || admitted > 2800 {
		t.Fatalf("expected about 25%% admitted, got %d of %d", admitted, trials)
	}
}

func TestGateCanaryStableModeAdmits(t *testing.T) {
	c := NewController(Mode{Canary: false, TrafficPercentage: 0}, WithRand(func() float64 { return 0.99 }))
	if !c.GateCanary() {
		t.Fatal("stable mode must admit every request")
	}
}

func TestGateDegrade(t *testing.T) {
	draw := 0.05
	c := NewController(Mode{}, WithRand(func() float64 { return draw }))

	eligible := ratelimit.Policy{Requests: 1, WindowSeconds: 1, Degrade: true}
	ineligible := ratelimit.Policy{Requests: 1, WindowSeconds: 1}

	if c.GateDegrade(eligible) {
		t.Fatal("expected no degrade outside emergency mode")
	}

	on := true
	if _, err := c.SetMode(Update{EmergencyMode: &on}); err != nil {
		t.Fatalf("SetMode failed: %v", err)
	}

	if !c.GateDegrade(eligible) {
		t.Fatal("expected degrade for draw below probability")
	}
	if c.GateDegrade(ineligible) {
		t.Fatal("ineligible policy must never degrade")
	}

	draw = 0.5
	if c.GateDegrade(eligible) {
		t.Fatal("expected no degrade for draw above probability")
	}
}

func TestSetModePartialUpdate(t *testing.T) {
	var changes []Mode
	c := NewController(Mode{Canary: true, TrafficPercentage: 5}, OnChange(func(_, current Mode) {
		changes = append(changes, current)
	}))

	on := true
	got, err := c.SetMode(Update{EmergencyMode: &on})
	if err != nil {
		t.Fatalf("SetMode failed: %v", err)
	}
	want := Mode{Canary: true, TrafficPercentage: 5, EmergencyMode: true}
	if got != want || c.GetMode() != want {
		t.Fatalf("expected %+v, got %+v / %+v", want, got, c.GetMode())
	}

	pct := 101
	if _, err := c.SetMode(Update{TrafficPercentage: &pct}); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
	if c.GetMode() != want {
		t.Fatalf("rejected update must not change mode, got %+v", c.GetMode())
	}

	if _, err := c.SetMode(Update{EmergencyMode: &on}); err != nil {
		t.Fatalf("SetMode failed: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected one change notification, got %d", len(changes))
	}
}

func TestControllerConcurrentReadWrite(t *testing.T) {
	c := NewController(Mode{Canary: true, TrafficPercentage: 50})

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			<-start
			pct := i * 10
			if _, err := c.SetMode(Update{TrafficPercentage: &pct}); err != nil {
				t.Errorf("SetMode failed: %v", err)
			}
		}(i)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 100; j++ {
				m := c.GetMode()
				if m.TrafficPercentage < 0 || m.TrafficPercentage > 100 {
					t.Errorf("torn mode read: %+v", m)
				}
				c.GateCanary()
			}
		}()
	}
	close(start)
	wg.Wait()
}

func TestHeaders(t *testing.T) {
	h := Headers(Mode{Canary: true, TrafficPercentage: 25, EmergencyMode: true})
	if h["X-Launch-Mode"] != "canary" || h["X-Traffic-Percentage"] != "25" || h["X-Emergency-Mode"] != "true" {
		t.Fatalf("unexpected headers %v", h)
	}

	h = Headers(Mode{TrafficPercentage: 100})
	if h["X-Launch-Mode"] != "stable" {
		t.Fatalf("expected stable label, got %v", h)
	}
	if _, ok := h["X-Emergency-Mode"]; ok {
		t.Fatal("emergency header must be absent when inactive")
	}
}

func TestNextStep(t *testing.T) {
	tests := map[int]int{0: 1, 1: 5, 4: 5, 5: 25, 25: 100, 100: 100}
	for in, want := range tests {
		if got := NextStep(in); got != want {
			t.Fatalf("NextStep(%d) = %d, want %d", in, got, want)
		}
	}
}
