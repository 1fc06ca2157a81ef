package vault

import "fmt"

// NativeState is the protocol-native position snapshot fed into an adapter.
// Each protocol variant supplies its own concrete shape; the tag lets the
// registry route a snapshot to the matching adapter without the automation
// engine ever branching on protocol internals.
type NativeState interface {
	Protocol() Protocol
}

// Adapter maps a protocol-native snapshot into the common PositionData shape.
// Implementations are independently total: each variant handles its own edge
// cases (zero-debt Aave positions, dust-limited Maker vaults) rather than
// sharing a partial base implementation.
type Adapter interface {
	Protocol() Protocol
	ToPositionData(state NativeState) (*PositionData, error)
}

var adapters = map[Protocol]Adapter{
	ProtocolMaker: MakerAdapter{},
	ProtocolAave:  AaveAdapter{},
}

// AdapterFor resolves the adapter registered for the supplied protocol.
func AdapterFor(p Protocol) (Adapter, error) {
	adapter, ok := adapters[p]
	if !ok {
		return nil, fmt.Errorf("vault: unsupported protocol %q", p)
	}
	return adapter, nil
}

// Translate is a convenience wrapper resolving the adapter from the state's
// own protocol tag.
func Translate(state NativeState) (*PositionData, error) {
	if state == nil {
		return nil, fmt.Errorf("vault: nil native state")
	}
	adapter, err := AdapterFor(state.Protocol())
	if err != nil {
		return nil, err
	}
	return adapter.ToPositionData(state)
}
