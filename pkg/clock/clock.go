package clock

import (
	"github.com/jonboulle/clockwork"
	"go.uber.org/fx"
)

// Module provides the wall clock. Services take clockwork.Clock as a
// dependency so tests can substitute a fake and drive expiry deterministically.
var Module = fx.Module("clock",
	fx.Provide(New),
)

func New() clockwork.Clock {
	return clockwork.NewRealClock()
}
