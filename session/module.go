package session

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/scylladb-go/shardpool/config"
)

// Module wires a *Session into an fx application: it provides one from
// *config.Config, connecting eagerly and registering an OnStop hook that
// closes it, the same Params/fx.Hook shape the teacher's own swarm module
// uses.
var Module = fx.Module("session",
	fx.Provide(newForFx),
)

// Params is this module's fx.In struct.
type Params struct {
	fx.In

	Config *config.Config
	Lc     fx.Lifecycle
}

func newForFx(p Params) (*Session, error) {
	s, err := Connect(context.Background(), p.Config)
	if err != nil {
		return nil, err
	}
	p.Lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return s.Close()
		},
	})
	return s, nil
}

// ZapLogger adapts an application's *zap.Logger into fx's own event
// logger, so fx's startup/shutdown diagnostics land in the same structured
// log stream as everything else instead of fx's default stderr writer.
func ZapLogger(l *zap.Logger) fxevent.Logger {
	return &fxevent.ZapLogger{Logger: l}
}
