package module

import "github.com/kingrea/converge/internal/contracts"

// Base provides common plumbing for modules (identity + argument spec).
type Base struct {
	info Info
	spec contracts.Spec
}

// NewBase seeds the helper with module info and spec.
func NewBase(info Info, spec contracts.Spec) Base {
	return Base{info: info, spec: spec}
}

// Info implements Module.Info.
func (b *Base) Info() Info {
	return b.info
}

// Spec implements Module.Spec.
func (b *Base) Spec() contracts.Spec {
	return b.spec
}
