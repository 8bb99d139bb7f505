package trustplane_test

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/MrEthical07/trustplane"
	"github.com/redis/go-redis/v9"
)

// ExampleNew builds an engine with Ed25519 keys read from disk.
func ExampleNew() {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	private, _ := os.ReadFile("/etc/trustplane/ed25519.pem")
	public, _ := os.ReadFile("/etc/trustplane/ed25519.pub")

	engine, err := trustplane.New().
		WithRedis(rdb).
		WithSigningKeys(private, public).
		Build()
	if err != nil {
		return
	}
	defer engine.Close()
}

// ExampleEngine_Admit shows how a denial maps to the HTTP contract.
func ExampleEngine_Admit() {
	var engine *trustplane.Engine
	res := engine.Admit(context.Background(), trustplane.AdmissionRequest{
		Path:   "/api/run",
		UserID: "user-1",
		IP:     "203.0.113.7",
	})
	if !res.Allowed() {
		fmt.Println(trustplane.HTTPStatus(res.Err), trustplane.ErrorCode(res.Err), res.RetryAfter)
	}
}

// ExampleEngine_Refresh shows the refresh error classes a client must handle.
func ExampleEngine_Refresh() {
	var engine *trustplane.Engine
	_, err := engine.Refresh(context.Background(), "refresh-token")
	switch {
	case errors.Is(err, trustplane.ErrRefreshRateLimited):
		// back off for the cooldown
	case errors.Is(err, trustplane.ErrRefreshReused):
		// the token was already rotated; force a new login
	case err != nil:
		// clear cookies and re-authenticate
	}
}
