package pipeline

// Stage names the pipeline step a state belongs to. Exactly one stage is
// current at any time; presentation derives its booleans from this tag via
// FlagsFor, never from the business data riding alongside it.
type Stage uint8

const (
	// StageMarketValidationLoading is the initial stage while the market
	// identifier is checked against the live set.
	StageMarketValidationLoading Stage = iota
	// StageMarketValidationFailure is terminal: no transaction work is
	// possible for an unknown market.
	StageMarketValidationFailure
	// StageMarketValidationSuccess precedes the connectivity branch.
	StageMarketValidationSuccess
	// StageEditingReadonly is the disconnected path: projected values only,
	// no transaction stages are ever reached.
	StageEditingReadonly
	// StageEditingConnected is the connected editing step before the
	// prerequisite stages.
	StageEditingConnected
	// StageProxy ensures the owner's execution proxy exists.
	StageProxy
	// StageAllowance ensures the token allowance for the protocol entrypoint.
	StageAllowance
	// StageAction submits the position-opening or modifying transaction.
	StageAction
)

// String returns the wire tag for the stage.
func (s Stage) String() string {
	switch s {
	case StageMarketValidationLoading:
		return "marketValidationLoading"
	case StageMarketValidationFailure:
		return "marketValidationFailure"
	case StageMarketValidationSuccess:
		return "marketValidationSuccess"
	case StageEditingReadonly:
		return "editingReadonly"
	case StageEditingConnected:
		return "editingConnected"
	case StageProxy:
		return "proxy"
	case StageAllowance:
		return "allowance"
	case StageAction:
		return "action"
	default:
		return "unknown"
	}
}

// Valid reports whether the stage is within the supported range.
func (s Stage) Valid() bool {
	return s <= StageAction
}

// StageFlags are the presentation booleans derived from the stage tag.
type StageFlags struct {
	IsMarketValidationStage bool
	IsEditingStage          bool
	IsProxyStage            bool
	IsAllowanceStage        bool
	IsActionStage           bool
	IsConnected             bool
	IsReadonly              bool
}

// FlagsFor is the total mapping from stage to flags. Every stage is handled
// explicitly so a new stage without a mapping fails loudly in tests.
func FlagsFor(s Stage) StageFlags {
	switch s {
	case StageMarketValidationLoading, StageMarketValidationFailure, StageMarketValidationSuccess:
		return StageFlags{IsMarketValidationStage: true}
	case StageEditingReadonly:
		return StageFlags{IsEditingStage: true, IsReadonly: true}
	case StageEditingConnected:
		return StageFlags{IsEditingStage: true, IsConnected: true}
	case StageProxy:
		return StageFlags{IsProxyStage: true, IsConnected: true}
	case StageAllowance:
		return StageFlags{IsAllowanceStage: true, IsConnected: true}
	case StageAction:
		return StageFlags{IsActionStage: true, IsConnected: true}
	default:
		return StageFlags{}
	}
}
