package chaos

import (
	"fmt"
	"math/rand"
	"time"
)

// Frame is one server push passing through the engine.
type Frame struct {
	Payload []byte
	// Delay is how long the sender should wait before writing the frame.
	Delay time.Duration
}

// Config controls chaos injection behavior.
type Config struct {
	Seed           int64
	DropRate       float64
	DuplicateRate  float64
	ReorderWindow  int
	MaxDelay       time.Duration
	DisconnectRate float64
}

// Enabled reports whether any fault is configured.
func (c Config) Enabled() bool {
	return c.DropRate > 0 || c.DuplicateRate > 0 || c.ReorderWindow > 1 || c.MaxDelay > 0 || c.DisconnectRate > 0
}

// Engine applies chaos rules to frames. It is not safe for concurrent use.
type Engine struct {
	cfg     Config
	rng     *rand.Rand
	pending []Frame
}

// NewEngine creates a chaos engine with validation.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Engine{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return fmt.Errorf("dropRate must be between 0 and 1")
	}
	if c.DuplicateRate < 0 || c.DuplicateRate > 1 {
		return fmt.Errorf("duplicateRate must be between 0 and 1")
	}
	if c.DisconnectRate < 0 || c.DisconnectRate > 1 {
		return fmt.Errorf("disconnectRate must be between 0 and 1")
	}
	if c.ReorderWindow <= 0 {
		return fmt.Errorf("reorderWindow must be >= 1")
	}
	if c.MaxDelay < 0 {
		return fmt.Errorf("maxDelay must be >= 0")
	}
	return nil
}

// Process applies chaos to a single frame and returns the frames to send now.
func (e *Engine) Process(f Frame) []Frame {
	if e == nil {
		return []Frame{f}
	}
	if e.shouldDrop() {
		return nil
	}
	f = e.applyDelay(f)
	if e.cfg.ReorderWindow <= 1 {
		return e.applyDuplicate(f)
	}
	e.pending = append(e.pending, f)
	if len(e.pending) < e.cfg.ReorderWindow {
		return nil
	}
	idx := e.rng.Intn(len(e.pending))
	out := e.pending[idx]
	e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
	return e.applyDuplicate(out)
}

// Flush returns any buffered frames in random order.
func (e *Engine) Flush() []Frame {
	if e == nil || len(e.pending) == 0 {
		return nil
	}
	out := make([]Frame, 0, len(e.pending))
	for len(e.pending) > 0 {
		idx := e.rng.Intn(len(e.pending))
		f := e.pending[idx]
		e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
		out = append(out, e.applyDuplicate(f)...)
	}
	return out
}

// ShouldDisconnect rolls whether the connection should be cut after a send.
func (e *Engine) ShouldDisconnect() bool {
	if e == nil {
		return false
	}
	return e.cfg.DisconnectRate > 0 && e.rng.Float64() < e.cfg.DisconnectRate
}

func (e *Engine) shouldDrop() bool {
	return e.cfg.DropRate > 0 && e.rng.Float64() < e.cfg.DropRate
}

func (e *Engine) applyDuplicate(f Frame) []Frame {
	out := []Frame{f}
	if e.cfg.DuplicateRate > 0 && e.rng.Float64() < e.cfg.DuplicateRate {
		out = append(out, f)
	}
	return out
}

func (e *Engine) applyDelay(f Frame) Frame {
	maxDelay := e.cfg.MaxDelay.Nanoseconds()
	if maxDelay <= 0 {
		return f
	}
	f.Delay += time.Duration(e.rng.Int63n(maxDelay + 1))
	return f
}
