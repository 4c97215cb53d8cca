package policy

import (
	"context"
	"time"

	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/session"
)

// Authorizer gates session dispatch through the policy engine.
type Authorizer struct {
	engine *Engine
}

var _ session.Authorizer = (*Authorizer)(nil)

// NewAuthorizer wraps an engine for use as the session authorizer.
func NewAuthorizer(engine *Engine) *Authorizer {
	return &Authorizer{engine: engine}
}

// Authorize evaluates the dispatch and denies with Unauthorized when the
// decision says no. Evaluation errors are already resolved to a verdict by
// the engine's fail posture.
func (a *Authorizer) Authorize(ctx context.Context, in session.AuthzInput) error {
	decision, _ := a.engine.Evaluate(ctx, &Input{
		SessionID:   in.SessionID,
		Subject:     in.Subject,
		Client:      in.ClientName,
		Teams:       in.Teams,
		Method:      in.Method,
		Environment: a.engine.Environment(),
		Timestamp:   time.Now().UTC(),
	})
	if !decision.Allow {
		return faults.Unauthorized("%s", decision.Reason)
	}
	return nil
}
