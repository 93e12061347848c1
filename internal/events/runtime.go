package events

import (
	"context"

	"github.com/bhandras/chatsync/internal/actor"
	"github.com/bhandras/chatsync/pkg/logger"
)

// Emit is an effect asking the runtime to publish a command.
type Emit struct {
	actor.EffectBase

	Event   Name
	Payload any
}

// Runtime interprets Emit effects against a Registry.
type Runtime struct {
	reg *Registry
}

var _ actor.Runtime = (*Runtime)(nil)

// NewRuntime returns a Runtime publishing through reg.
func NewRuntime(reg *Registry) *Runtime {
	return &Runtime{reg: reg}
}

// HandleEffects implements actor.Runtime.
func (r *Runtime) HandleEffects(_ context.Context, effects []actor.Effect, _ func(actor.Input)) {
	for _, eff := range effects {
		e, ok := eff.(Emit)
		if !ok {
			logger.Debugf("events: runtime ignoring effect %T", eff)
			continue
		}
		if err := r.reg.Emit(e.Event, e.Payload); err != nil {
			logger.Warnf("events: %v", err)
		}
	}
}

// Stop implements actor.Runtime.
func (r *Runtime) Stop() {}
