package launch

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newSyncRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return rdb
}

func TestRedisSyncApplyAndLoad(t *testing.T) {
	rdb := newSyncRedis(t)
	ctx := context.Background()

	operator := NewRedisSync(rdb, nil, zerolog.Nop())
	canary, pct := true, 5
	got, err := operator.Apply(ctx, Update{Canary: &canary, TrafficPercentage: &pct})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got != (Mode{Canary: true, TrafficPercentage: 5}) {
		t.Fatalf("unexpected applied mode %+v", got)
	}

	on := true
	if _, err := operator.Apply(ctx, Update{EmergencyMode: &on}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	c := NewController(Mode{TrafficPercentage: 100})
	if err := NewRedisSync(rdb, c, zerolog.Nop()).Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := Mode{Canary: true, TrafficPercentage: 5, EmergencyMode: true}
	if c.GetMode() != want {
		t.Fatalf("expected %+v after load, got %+v", want, c.GetMode())
	}
}

func TestRedisSyncRunAppliesPublishedModes(t *testing.T) {
	rdb := newSyncRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewController(Mode{TrafficPercentage: 100})
	done := make(chan error, 1)
	go func() {
		done <- NewRedisSync(rdb, c, zerolog.Nop()).Run(ctx)
	}()

	operator := NewRedisSync(rdb, nil, zerolog.Nop())
	canary, pct := true, 25
	deadline := time.Now().Add(2 * time.Second)
	for c.GetMode().TrafficPercentage != 25 {
		if time.Now().After(deadline) {
			t.Fatalf("published mode never applied, have %+v", c.GetMode())
		}
		if _, err := operator.Apply(ctx, Update{Canary: &canary, TrafficPercentage: &pct}); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRedisSyncRejectsInvalidUpdate(t *testing.T) {
	rdb := newSyncRedis(t)
	c := NewController(Mode{TrafficPercentage: 100})

	pct := -1
	if _, err := NewRedisSync(rdb, c, zerolog.Nop()).Apply(context.Background(), Update{TrafficPercentage: &pct}); err == nil {
		t.Fatal("expected invalid percentage to be rejected")
	}
	if c.GetMode().TrafficPercentage != 100 {
		t.Fatalf("controller changed on rejected update: %+v", c.GetMode())
	}
}
