package renderer

import "renderstudio/internal/providers/engine"

// RuntimeCapabilities describes what the renderer process can actually do.
type RuntimeCapabilities struct {
	RealEnabled bool
	Engine      engine.Engine
}

// RealAvailable reports whether real rendering is switched on and the engine
// is ready.
func (c RuntimeCapabilities) RealAvailable() bool {
	return c.RealEnabled && c.Engine != nil && c.Engine.Initialized()
}

// EngineName returns the configured engine name or "none".
func (c RuntimeCapabilities) EngineName() string {
	if c.Engine == nil {
		return "none"
	}
	return c.Engine.Name()
}

// Snapshot is the JSON view served by the renderer root endpoint.
type Snapshot struct {
	Service           string `json:"service"`
	RealEnabled       bool   `json:"real_enabled"`
	Engine            string `json:"engine"`
	EngineInitialized bool   `json:"engine_initialized"`
	Mode              string `json:"mode"`
}

// Snapshot reports the current capabilities.
func (c RuntimeCapabilities) Snapshot() Snapshot {
	s := Snapshot{
		Service:     "renderer",
		RealEnabled: c.RealEnabled,
		Engine:      c.EngineName(),
		Mode:        "skeleton",
	}
	if c.Engine != nil {
		s.EngineInitialized = c.Engine.Initialized()
	}
	if c.RealAvailable() {
		s.Mode = "real"
	}
	return s
}
