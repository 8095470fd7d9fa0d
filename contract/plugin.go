package contract

import (
	"github.com/ethereum/go-ethereum/common"

	"contract-lab/models"
)

// Plugin is code the dispatcher runs against its own state, the off-chain
// analogue of delegated execution: the callee reads and writes the
// dispatcher's State as if it were part of the contract. Running foreign
// code against one's own storage is a capability, so the dispatcher only
// accepts plugins wired in at construction time, and the secure variant
// additionally restricts Execute to the owner. The dispatcher does not
// review what a plugin does; whoever wires and invokes it does.
type Plugin interface {
	Run(state *State, caller common.Address, payload []byte) error
}

// PluginFunc adapts a plain function to the Plugin interface.
type PluginFunc func(state *State, caller common.Address, payload []byte) error

func (f PluginFunc) Run(state *State, caller common.Address, payload []byte) error {
	return f(state, caller, payload)
}

// EventSink receives the structured events a contract emits. The simulator
// seals them into the event chain; a nil sink drops them.
type EventSink func(eventType models.EventType, caller common.Address, params map[string]string)
