// Package handler implements the request handler chain.
//
// A chain is a statically linked sequence of units built once at wiring
// time. Each unit may validate, respond, fail or delegate to the next unit.
// Configuration-only units such as Impl return false from Setup and are
// spliced out of the chain that serves requests.
package handler

import (
	"errors"
	"fmt"

	"github.com/artpar/apimech/core/request"
)

var (
	// ErrEmptyChain is returned when no unit remains visible after setup.
	ErrEmptyChain = errors.New("handler: chain has no units")

	// ErrRetWithoutImpl is returned when a Ret unit has no bound implementation.
	ErrRetWithoutImpl = errors.New("handler: Ret has no bound Impl")

	// ErrImplRequiresRet is returned from Impl setup when the chain has no Ret.
	ErrImplRequiresRet = errors.New("Impl requires Ret")

	// ErrNilHandler is returned when a nil unit is passed to Build.
	ErrNilHandler = errors.New("handler: nil unit")

	// ErrAlreadyWired is returned when a unit passed to Build already
	// belongs to another chain.
	ErrAlreadyWired = errors.New("handler: unit already wired")
)

// Handler is one unit of a chain.
type Handler interface {
	// Name identifies the unit in the container and in logs.
	Name() string

	// Setup is called once at wiring time. It reports whether the unit
	// stays in the chain that handles requests.
	Setup(c *Container) (bool, error)

	// Handle processes a request.
	Handle(ctx *request.Ctx) error
}

// Linker is implemented by units that delegate to a successor.
type Linker interface {
	SetNext(next Handler)
}

// wirable is implemented by Base and Chain. A wired unit is owned by
// one chain and may not be linked again.
type wirable interface {
	isWired() bool
	setWired()
}

// Base provides naming, default setup and delegation for units.
type Base struct {
	name  string
	next  Handler
	wired bool
}

// NewBase creates a Base with the given unit name.
func NewBase(name string) Base {
	return Base{name: name}
}

// Name returns the unit name.
func (b *Base) Name() string {
	return b.name
}

// Setup keeps the unit in the chain.
func (b *Base) Setup(*Container) (bool, error) {
	return true, nil
}

// SetNext links the successor unit.
func (b *Base) SetNext(next Handler) {
	b.next = next
}

func (b *Base) isWired() bool { return b.wired }

func (b *Base) setWired() { b.wired = true }

// NextHandler returns the successor unit, if any.
func (b *Base) NextHandler() Handler {
	return b.next
}

// Next delegates to the successor. At the end of the chain it does nothing,
// leaving the request to the mechanics' completion handling.
func (b *Base) Next(ctx *request.Ctx) error {
	if b.next == nil {
		return nil
	}
	return b.next.Handle(ctx)
}

// Container holds the units of a chain while it is being wired.
type Container struct {
	units  []Handler
	byName map[string]Handler
	ret    *RetHandler
}

func newContainer(units []Handler) *Container {
	c := &Container{
		units:  units,
		byName: make(map[string]Handler, len(units)),
	}
	for _, u := range units {
		if _, exists := c.byName[u.Name()]; !exists {
			c.byName[u.Name()] = u
		}
		if ret, ok := u.(*RetHandler); ok && c.ret == nil {
			c.ret = ret
		}
	}
	return c
}

// Lookup returns the first unit registered under name.
func (c *Container) Lookup(name string) (Handler, bool) {
	h, ok := c.byName[name]
	return h, ok
}

// Ret returns the chain's return value unit, if any.
func (c *Container) Ret() (*RetHandler, bool) {
	return c.ret, c.ret != nil
}

// Units returns all registered units in order.
func (c *Container) Units() []Handler {
	return c.units
}

// Chain is a built, immutable sequence of units. It is itself a Handler.
type Chain struct {
	units []Handler
	wired bool
}

// Build wires units into a chain. Setup runs once per unit in order;
// units whose Setup returns false are spliced out. A unit can belong to
// one chain only; reusing it fails with ErrAlreadyWired.
func Build(units ...Handler) (*Chain, error) {
	for i, u := range units {
		if u == nil {
			return nil, fmt.Errorf("%w at position %d", ErrNilHandler, i)
		}
		if w, ok := u.(wirable); ok && w.isWired() {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyWired, u.Name())
		}
	}

	c := newContainer(units)

	visible := make([]Handler, 0, len(units))
	for _, u := range units {
		keep, err := u.Setup(c)
		if err != nil {
			return nil, fmt.Errorf("handler: setup %s: %w", u.Name(), err)
		}
		if keep {
			visible = append(visible, u)
		}
	}

	if ret, ok := c.Ret(); ok && !ret.HasImpl() {
		return nil, ErrRetWithoutImpl
	}

	if len(visible) == 0 {
		return nil, ErrEmptyChain
	}

	for i := 0; i < len(visible)-1; i++ {
		if l, ok := visible[i].(Linker); ok {
			l.SetNext(visible[i+1])
		}
	}
	for _, u := range units {
		if w, ok := u.(wirable); ok {
			w.setWired()
		}
	}

	return &Chain{units: visible}, nil
}

// MustBuild is like Build but panics on error.
func MustBuild(units ...Handler) *Chain {
	chain, err := Build(units...)
	if err != nil {
		panic(err)
	}
	return chain
}

// Name returns the name of the first unit.
func (c *Chain) Name() string {
	return "chain:" + c.units[0].Name()
}

// Setup keeps an already built chain as a unit of an outer chain.
func (c *Chain) Setup(*Container) (bool, error) {
	return true, nil
}

func (c *Chain) isWired() bool { return c.wired }

func (c *Chain) setWired() { c.wired = true }

// SetNext links the last unit of the chain to next.
func (c *Chain) SetNext(next Handler) {
	if l, ok := c.units[len(c.units)-1].(Linker); ok {
		l.SetNext(next)
	}
}

// Handle runs the chain from its first unit.
func (c *Chain) Handle(ctx *request.Ctx) error {
	return c.units[0].Handle(ctx)
}

// Units returns the visible units in order.
func (c *Chain) Units() []Handler {
	return c.units
}
