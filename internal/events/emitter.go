package events

import "context"

// Emitter delivers events to whoever is listening (a UI bridge, a test, a
// log). Services receive one at construction instead of reaching for a global
// broadcast channel.
type Emitter interface {
	Emit(ctx context.Context, name string, evt Event)
}

// EmitterFunc adapts a function to the Emitter interface. The chat id is
// filled in from the context when the payload does not carry one.
type EmitterFunc func(ctx context.Context, name string, evt Event)

func (f EmitterFunc) Emit(ctx context.Context, name string, evt Event) {
	if evt.ChatID == "" {
		evt.ChatID = ChatFromContext(ctx)
	}
	f(ctx, name, evt)
}

// Nop returns an emitter that drops everything.
func Nop() Emitter {
	return EmitterFunc(func(context.Context, string, Event) {})
}
