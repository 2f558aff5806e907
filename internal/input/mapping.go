package input

// PointFunc maps a viewer frame point to a host screen point.
type PointFunc func(x, y int) (int, int)

// WithPointMapping wraps inj so every pointer position goes through fn
// before it is injected. A nil fn returns inj unchanged.
func WithPointMapping(inj Injector, fn PointFunc) Injector {
	if fn == nil {
		return inj
	}
	return &mappedInjector{Injector: inj, fn: fn}
}

type mappedInjector struct {
	Injector
	fn PointFunc
}

func (m *mappedInjector) MoveMouse(x, y int) error {
	return m.Injector.MoveMouse(m.fn(x, y))
}
