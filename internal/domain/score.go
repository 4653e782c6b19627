package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// StateLabel summarizes where the asset trades relative to its own recent
// regime, derived from z-score and RSI.
type StateLabel string

const (
	StateEquilibre      StateLabel = "EQUILIBRE"
	StateExtensionHaute StateLabel = "EXTENSION_HAUTE"
	StateExtensionBasse StateLabel = "EXTENSION_BASSE"
	StateStressHaussier StateLabel = "STRESS_HAUSSIER"
	StateStressBaissier StateLabel = "STRESS_BAISSIER"
	StateNA             StateLabel = "NA"
)

// Pillar names used in weight tables and breakdown blobs.
const (
	PillarValue     = "value"
	PillarMomentum  = "momentum"
	PillarSafety    = "safety"
	PillarFXRisk    = "fx_risk"
	PillarLiquidity = "liquidity_risk"
)

// Feature names. The breakdown keeps a closed set of named features plus an
// extras map for forward-compatible additions.
const (
	FeatureRSI          = "rsi_14"
	FeatureZScore       = "zscore_20"
	FeatureVolAnnual    = "volatility_annual"
	FeatureMaxDrawdown  = "max_drawdown_252"
	FeatureSMA200       = "sma_200"
	FeaturePriceVsSMA   = "price_vs_sma200"
	FeatureLastPrice    = "last_price"
	FeaturePERatio      = "pe_ratio"
	FeatureProfitMargin = "profit_margin"
	FeatureROE          = "return_on_equity"
)

// CapEntry records one hard cap the quality adjuster applied.
type CapEntry struct {
	Cap    float64 `json:"cap"`
	Metric string  `json:"metric"`
	Reason string  `json:"reason"`
}

// AdjustmentDebug is the quality adjuster's audit block inside a breakdown.
type AdjustmentDebug struct {
	RawTotal         float64    `json:"raw_total"`
	ConfidenceMult   float64    `json:"confidence_multiplier"`
	AfterMultiplier  float64    `json:"after_multiplier"`
	LiquidityPenalty float64    `json:"liquidity_penalty"`
	CapsApplied      []CapEntry `json:"caps_applied,omitempty"`
	Final            float64    `json:"final"`
}

// Breakdown is the self-describing audit trail serialized next to each score.
type Breakdown struct {
	EngineVersion   string             `json:"engine_version"`
	ComputedAt      time.Time          `json:"computed_at"`
	AssetType       AssetType          `json:"asset_type"`
	MarketScope     MarketScope        `json:"market_scope"`
	WeightsUsed     map[string]float64 `json:"weights_used"`
	Features        map[string]float64 `json:"features"`
	Extras          map[string]float64 `json:"extras,omitempty"`
	Pillars         map[string]float64 `json:"pillars"`
	ConfidenceParts map[string]float64 `json:"confidence_parts"`
	Adjustments     *AdjustmentDebug   `json:"adjustments,omitempty"`
}

// MarshalText serializes the breakdown for storage.
func (b *Breakdown) MarshalText() (string, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("failed to marshal breakdown: %w", err)
	}
	return string(raw), nil
}

// ParseBreakdown restores a stored breakdown blob.
func ParseBreakdown(raw string) (*Breakdown, error) {
	if raw == "" {
		return nil, nil
	}
	var b Breakdown
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, fmt.Errorf("failed to parse breakdown: %w", err)
	}
	return &b, nil
}

// Score is the published scoring row for one asset.
type Score struct {
	AssetID            string      `json:"asset_id"`
	MarketScope        MarketScope `json:"market_scope"`
	ScoreTotal         *float64    `json:"score_total"`
	ScoreValue         *float64    `json:"score_value,omitempty"`
	ScoreMomentum      *float64    `json:"score_momentum,omitempty"`
	ScoreSafety        *float64    `json:"score_safety,omitempty"`
	ScoreFXRisk        *float64    `json:"score_fx_risk,omitempty"`
	ScoreLiquidityRisk *float64    `json:"score_liquidity_risk,omitempty"`
	Confidence         float64     `json:"confidence"`
	StateLabel         StateLabel  `json:"state_label"`

	// Raw metrics surfaced beside the composite for listings.
	RSI         *float64 `json:"rsi,omitempty"`
	ZScore      *float64 `json:"zscore,omitempty"`
	VolAnnual   *float64 `json:"vol_annual,omitempty"`
	MaxDrawdown *float64 `json:"max_drawdown,omitempty"`
	SMA200      *float64 `json:"sma200,omitempty"`
	LastPrice   *float64 `json:"last_price,omitempty"`

	FundamentalsAvailable bool       `json:"fundamentals_available"`
	Breakdown             *Breakdown `json:"breakdown,omitempty"`
	ComputedAt            time.Time  `json:"computed_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// RotationState tracks refresh bookkeeping for one asset.
type RotationState struct {
	AssetID       string     `json:"asset_id"`
	LastRefreshAt *time.Time `json:"last_refresh_at,omitempty"`
	PriorityLevel int        `json:"priority_level"`
	InTop50       bool       `json:"in_top50"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	RefreshCount  int        `json:"refresh_count"`
}
