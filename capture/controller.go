package capture

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hazyhaar/visreg/artifact"
)

// ErrUnavailable is returned when no Controller is registered.
var ErrUnavailable = errors.New("capture: no browser controller available")

// Controller is the remote browser-control capability the engine drives.
// Every method is a suspension point and must honour ctx.
type Controller interface {
	Navigate(ctx context.Context, url string) error
	Resize(ctx context.Context, vp artifact.Viewport) error
	Screenshot(ctx context.Context, req ShotRequest) ([]byte, error)
	// Evaluate runs a JavaScript function source ("() => ...") in the page
	// and returns its JSON-encoded result. Promises are awaited.
	Evaluate(ctx context.Context, script string) (json.RawMessage, error)
	WaitFor(ctx context.Context, cond WaitCondition) error
	Click(ctx context.Context, selector string) error
	Hover(ctx context.Context, selector string) error
	Close() error
	// Install provisions the browser binary if it is missing.
	Install(ctx context.Context) error
}

// Sessioner is implemented by controllers that can open an isolated
// session (a fresh tab). When available, every capture attempt runs in its
// own session, closed when the attempt ends.
type Sessioner interface {
	NewSession(ctx context.Context) (Controller, error)
}

// EngineProber is implemented by controllers that only drive some engines.
type EngineProber interface {
	Supports(engine artifact.Engine) bool
}

// ShotRequest parameterizes one screenshot primitive call.
type ShotRequest struct {
	Selector string
	FullPage bool
	Format   artifact.Format
	Quality  int
}

// WaitCondition is satisfied when all of its set fields are: the delay has
// elapsed, the selector matches an element, and the script returns truthy.
type WaitCondition struct {
	Delay    time.Duration
	Selector string
	Script   string
}
