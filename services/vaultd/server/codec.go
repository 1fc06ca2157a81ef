package server

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"vaultguard/native/automation"
	"vaultguard/native/pipeline"
	"vaultguard/native/vault"
)

// ratDigits is the decimal precision used for numeric fields on the wire.
const ratDigits = 8

func ratString(x *big.Rat) string {
	if x == nil {
		return ""
	}
	return x.FloatString(ratDigits)
}

func parseRat(field, value string) (*big.Rat, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	rat, ok := new(big.Rat).SetString(value)
	if !ok {
		return nil, fmt.Errorf("invalid %s: %q", field, value)
	}
	return rat, nil
}

type positionRequest struct {
	Token              string `json:"token"`
	Owner              string `json:"owner"`
	LockedCollateral   string `json:"lockedCollateral"`
	Debt               string `json:"debt"`
	DebtFloor          string `json:"debtFloor"`
	LiquidationRatio   string `json:"liquidationRatio"`
	LiquidationPenalty string `json:"liquidationPenalty"`
	LiquidationPrice   string `json:"liquidationPrice"`
	PositionRatio      string `json:"positionRatio"`
	NextPositionRatio  string `json:"nextPositionRatio"`
}

func (req positionRequest) toPosition() (*vault.PositionData, error) {
	position := &vault.PositionData{
		Token: req.Token,
		Owner: common.HexToAddress(req.Owner),
	}
	fields := []struct {
		name string
		dst  **big.Rat
		src  string
	}{
		{"lockedCollateral", &position.LockedCollateral, req.LockedCollateral},
		{"debt", &position.Debt, req.Debt},
		{"debtFloor", &position.DebtFloor, req.DebtFloor},
		{"liquidationRatio", &position.LiquidationRatio, req.LiquidationRatio},
		{"liquidationPenalty", &position.LiquidationPenalty, req.LiquidationPenalty},
		{"liquidationPrice", &position.LiquidationPrice, req.LiquidationPrice},
		{"positionRatio", &position.PositionRatio, req.PositionRatio},
		{"nextPositionRatio", &position.NextPositionRatio, req.NextPositionRatio},
	}
	for _, field := range fields {
		rat, err := parseRat(field.name, field.src)
		if err != nil {
			return nil, err
		}
		*field.dst = rat
	}
	return vault.SanitizePosition(position)
}

type triggersRequest struct {
	StopLoss *struct {
		Enabled        bool   `json:"enabled"`
		Level          string `json:"level"`
		IsToCollateral bool   `json:"isToCollateral"`
	} `json:"stopLoss"`
	AutoSell *struct {
		Enabled         bool   `json:"enabled"`
		ExecCollRatio   string `json:"execCollRatio"`
		TargetCollRatio string `json:"targetCollRatio"`
		Deviation       string `json:"deviation"`
	} `json:"autoSell"`
	AutoBuy *struct {
		Enabled         bool   `json:"enabled"`
		ExecCollRatio   string `json:"execCollRatio"`
		TargetCollRatio string `json:"targetCollRatio"`
		Deviation       string `json:"deviation"`
	} `json:"autoBuy"`
	ConstantMultiple *struct {
		Enabled                bool   `json:"enabled"`
		BuyExecutionCollRatio  string `json:"buyExecutionCollRatio"`
		SellExecutionCollRatio string `json:"sellExecutionCollRatio"`
		TargetCollRatio        string `json:"targetCollRatio"`
	} `json:"constantMultiple"`
}

func (req triggersRequest) toTriggerSet(protocol vault.Protocol) (automation.TriggerSet, error) {
	set := automation.DefaultTriggers(protocol)
	if req.StopLoss != nil {
		level, err := parseRat("stopLoss.level", req.StopLoss.Level)
		if err != nil {
			return set, err
		}
		set.StopLoss = automation.StopLossState{
			Enabled:        req.StopLoss.Enabled,
			Level:          level,
			IsToCollateral: req.StopLoss.IsToCollateral,
		}
	}
	if req.AutoSell != nil {
		exec, err := parseRat("autoSell.execCollRatio", req.AutoSell.ExecCollRatio)
		if err != nil {
			return set, err
		}
		target, err := parseRat("autoSell.targetCollRatio", req.AutoSell.TargetCollRatio)
		if err != nil {
			return set, err
		}
		deviation, err := parseRat("autoSell.deviation", req.AutoSell.Deviation)
		if err != nil {
			return set, err
		}
		set.AutoSell = automation.AutoSellState{
			Enabled:         req.AutoSell.Enabled,
			ExecCollRatio:   exec,
			TargetCollRatio: target,
			Deviation:       deviation,
		}
	}
	if req.AutoBuy != nil {
		exec, err := parseRat("autoBuy.execCollRatio", req.AutoBuy.ExecCollRatio)
		if err != nil {
			return set, err
		}
		target, err := parseRat("autoBuy.targetCollRatio", req.AutoBuy.TargetCollRatio)
		if err != nil {
			return set, err
		}
		deviation, err := parseRat("autoBuy.deviation", req.AutoBuy.Deviation)
		if err != nil {
			return set, err
		}
		set.AutoBuy = automation.AutoBuyState{
			Enabled:         req.AutoBuy.Enabled,
			ExecCollRatio:   exec,
			TargetCollRatio: target,
			Deviation:       deviation,
		}
	}
	if req.ConstantMultiple != nil {
		buy, err := parseRat("constantMultiple.buyExecutionCollRatio", req.ConstantMultiple.BuyExecutionCollRatio)
		if err != nil {
			return set, err
		}
		sell, err := parseRat("constantMultiple.sellExecutionCollRatio", req.ConstantMultiple.SellExecutionCollRatio)
		if err != nil {
			return set, err
		}
		target, err := parseRat("constantMultiple.targetCollRatio", req.ConstantMultiple.TargetCollRatio)
		if err != nil {
			return set, err
		}
		set.ConstantMultiple = automation.ConstantMultipleState{
			Enabled:                req.ConstantMultiple.Enabled,
			BuyExecutionCollRatio:  buy,
			SellExecutionCollRatio: sell,
			TargetCollRatio:        target,
		}
	}
	return set, nil
}

type envRequest struct {
	GasBalance  string `json:"gasBalance"`
	GasEstimate string `json:"gasEstimate"`
	NextPrice   string `json:"nextPrice"`
}

func (req envRequest) toEnv() (automation.Env, error) {
	var env automation.Env
	var err error
	if env.GasBalance, err = parseRat("gasBalance", req.GasBalance); err != nil {
		return env, err
	}
	if env.GasEstimate, err = parseRat("gasEstimate", req.GasEstimate); err != nil {
		return env, err
	}
	if env.NextCollateralPrice, err = parseRat("nextPrice", req.NextPrice); err != nil {
		return env, err
	}
	return env, nil
}

type validationView struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Blocking bool     `json:"blocking"`
}

func newValidationView(result automation.Result) validationView {
	view := validationView{
		Errors:   make([]string, 0, len(result.Errors)),
		Warnings: make([]string, 0, len(result.Warnings)),
		Blocking: result.Blocking,
	}
	for _, kind := range result.Errors {
		view.Errors = append(view.Errors, string(kind))
	}
	for _, kind := range result.Warnings {
		view.Warnings = append(view.Warnings, string(kind))
	}
	return view
}

type metadataView struct {
	Protocol                    string         `json:"protocol"`
	SliderMin                   string         `json:"sliderMin"`
	SliderMax                   string         `json:"sliderMax"`
	InitialLevel                string         `json:"initialLevel"`
	CurrentLevel                string         `json:"currentLevel"`
	ResetLevel                  string         `json:"resetLevel"`
	ResetIsToCollateral         bool           `json:"resetIsToCollateral"`
	CollateralDuringLiquidation string         `json:"collateralDuringLiquidation"`
	TriggerMaxToken             string         `json:"triggerMaxToken"`
	DynamicStopLossPrice        string         `json:"dynamicStopLossPrice"`
	ExecutionPrice              string         `json:"executionPrice"`
	MaxToken                    string         `json:"maxToken"`
	SliderPercentageFill        string         `json:"sliderPercentageFill"`
	RightBoundary               string         `json:"rightBoundary"`
	SliderStep                  int64          `json:"sliderStep"`
	Validation                  validationView `json:"validation"`
}

func newMetadataView(metadata *automation.StopLossMetadata, level *big.Rat, validation automation.Result) metadataView {
	if metadata == nil {
		return metadataView{}
	}
	return metadataView{
		Protocol:                    string(metadata.Protocol),
		SliderMin:                   ratString(metadata.Values.SliderMin),
		SliderMax:                   ratString(metadata.Values.SliderMax),
		InitialLevel:                ratString(metadata.Values.InitialLevel),
		CurrentLevel:                ratString(level),
		ResetLevel:                  ratString(metadata.Values.Reset.Level),
		ResetIsToCollateral:         metadata.Values.Reset.IsToCollateral,
		CollateralDuringLiquidation: ratString(metadata.Values.CollateralDuringLiquidation),
		TriggerMaxToken:             ratString(metadata.Values.TriggerMaxToken),
		DynamicStopLossPrice:        ratString(metadata.Values.DynamicStopLossPrice),
		ExecutionPrice:              ratString(metadata.Methods.ExecutionPrice(level)),
		MaxToken:                    ratString(metadata.Methods.MaxToken(level)),
		SliderPercentageFill:        ratString(metadata.Methods.SliderPercentageFill(level)),
		RightBoundary:               ratString(metadata.Methods.RightBoundary(level)),
		SliderStep:                  metadata.Settings.SliderStep,
		Validation:                  newValidationView(validation),
	}
}

type positionView struct {
	Token            string `json:"token"`
	Owner            string `json:"owner"`
	LockedCollateral string `json:"lockedCollateral"`
	Debt             string `json:"debt"`
	LiquidationPrice string `json:"liquidationPrice"`
	PositionRatio    string `json:"positionRatio"`
}

type triggerSetView struct {
	StopLossEnabled bool   `json:"stopLossEnabled"`
	StopLossLevel   string `json:"stopLossLevel"`
	IsToCollateral  bool   `json:"isToCollateral"`
	AutoSellEnabled bool   `json:"autoSellEnabled"`
	AutoBuyEnabled  bool   `json:"autoBuyEnabled"`
	ConstantMult    bool   `json:"constantMultipleEnabled"`
}

type stateView struct {
	PipelineID    string              `json:"pipelineId"`
	Market        string              `json:"market"`
	Stage         string              `json:"stage"`
	Flags         pipeline.StageFlags `json:"flags"`
	TxStatus      string              `json:"txStatus"`
	TxHash        string              `json:"txHash,omitempty"`
	PriceCurrent  string              `json:"priceCurrent,omitempty"`
	PriceNext     string              `json:"priceNext,omitempty"`
	ProxyAddress  string              `json:"proxyAddress,omitempty"`
	Position      *positionView       `json:"position,omitempty"`
	Triggers      triggerSetView      `json:"triggers"`
	Validation    validationView      `json:"validation"`
	FailureReason string              `json:"failureReason,omitempty"`
}

func newStateView(state pipeline.State) stateView {
	view := stateView{
		PipelineID:    state.PipelineID,
		Market:        state.Market,
		Stage:         state.Stage.String(),
		Flags:         state.Flags,
		TxStatus:      state.TxStatus.String(),
		PriceCurrent:  ratString(state.Price.Current),
		PriceNext:     ratString(state.Price.Next),
		Validation:    newValidationView(state.Validation),
		FailureReason: state.FailureReason,
		Triggers: triggerSetView{
			StopLossEnabled: state.Triggers.StopLoss.Enabled,
			StopLossLevel:   ratString(state.Triggers.StopLoss.Level),
			IsToCollateral:  state.Triggers.StopLoss.IsToCollateral,
			AutoSellEnabled: state.Triggers.AutoSell.Enabled,
			AutoBuyEnabled:  state.Triggers.AutoBuy.Enabled,
			ConstantMult:    state.Triggers.ConstantMultiple.Enabled,
		},
	}
	if state.TxHash != (common.Hash{}) {
		view.TxHash = state.TxHash.Hex()
	}
	if state.ProxyAddress != (common.Address{}) {
		view.ProxyAddress = state.ProxyAddress.Hex()
	}
	if state.Position != nil {
		view.Position = &positionView{
			Token:            state.Position.Token,
			Owner:            state.Position.Owner.Hex(),
			LockedCollateral: ratString(state.Position.LockedCollateral),
			Debt:             ratString(state.Position.Debt),
			LiquidationPrice: ratString(state.Position.LiquidationPrice),
			PositionRatio:    ratString(state.Position.PositionRatio),
		}
	}
	return view
}
