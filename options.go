package override

import "github.com/rs/zerolog"

// DefaultResidualName is the name of the hidden collection gathering
// overrides left over by a resync.
const DefaultResidualName = "OVERRIDE_RESYNC_LEFTOVERS"

// Option configures a Main.
type Option func(*Main)

// WithLogger sets the logger used by every override pass on the Main.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Main) {
		m.logger = l
	}
}

// WithDebug turns unsupported operations into panics instead of logged
// errors.
func WithDebug(enable bool) Option {
	return func(m *Main) {
		m.debug = enable
	}
}

// WithNotifier registers the hook informed of every successful apply.
func WithNotifier(n Notifier) Option {
	return func(m *Main) {
		m.notifier = n
	}
}

func WithResidualName(name string) Option {
	return func(m *Main) {
		if name != "" {
			m.residualName = name
		}
	}
}

// Notifier receives change notifications for entities modified by the
// apply engine.
type Notifier interface {
	Changed(e Entity, path string)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(e Entity, path string)

func (f NotifierFunc) Changed(e Entity, path string) {
	f(e, path)
}
