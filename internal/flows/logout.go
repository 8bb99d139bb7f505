package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/trustplane/session"
)

type LogoutSessionStore interface {
	Get(ctx context.Context, sessionID string) (*session.Record, error)
	Terminate(ctx context.Context, sessionID, reason string) (bool, error)
	TerminateAllExcept(ctx context.Context, identityID, keepID string) (int, error)
}

// LogoutDeps captures logout dependencies.
type LogoutDeps struct {
	Sessions LogoutSessionStore
}

// LogoutResult reports what a logout changed.
type LogoutResult struct {
	Err        error
	Terminated int
}

// ErrForeignSession is returned when an identity targets a session it does
// not own.
var ErrForeignSession = errors.New("session belongs to another identity")

// RunLogout terminates one session owned by identityID. An empty identityID
// skips the ownership check.
func RunLogout(ctx context.Context, identityID, sessionID, reason string, deps LogoutDeps) LogoutResult {
	if identityID != "" {
		rec, err := deps.Sessions.Get(ctx, sessionID)
		if err != nil {
			return LogoutResult{Err: err}
		}
		if rec.IdentityID != identityID {
			return LogoutResult{Err: errors.Join(session.ErrNotFound, ErrForeignSession)}
		}
	}

	changed, err := deps.Sessions.Terminate(ctx, sessionID, reason)
	if err != nil {
		return LogoutResult{Err: err}
	}
	if changed {
		return LogoutResult{Terminated: 1}
	}
	return LogoutResult{}
}

// RunTerminateOthers ends every session of identityID except keepID.
func RunTerminateOthers(ctx context.Context, identityID, keepID string, deps LogoutDeps) LogoutResult {
	n, err := deps.Sessions.TerminateAllExcept(ctx, identityID, keepID)
	return LogoutResult{Err: err, Terminated: n}
}
