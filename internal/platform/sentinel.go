package platform

import (
	"fmt"
	"slices"
	"strings"
)

// SentinelProduct identifies a Copernicus product family.
type SentinelProduct struct {
	// Mission is 2 or 3.
	Mission int

	// Sensor is the product name code: OL, SL or MSI.
	Sensor string

	// Level is the processing level: L1, L2, L1C or L2A.
	Level string

	// Variant is the resolution or product variant: EFR, ERR, WFR, WRR, RBT,
	// WST, WCT, or the level itself for MSI.
	Variant string
}

// sentinelVariants lists the accepted variants per instrument and level;
// the first entry is the default.
var sentinelVariants = map[string]map[string][]string{
	"OLCI":  {LevelL1: {"EFR", "ERR"}, LevelL2: {"WFR", "WRR"}},
	"SLSTR": {LevelL1: {"RBT"}, LevelL2: {"WST", "WCT"}},
	"MSI":   {LevelL1C: {"L1C"}, LevelL2A: {"L2A"}},
}

// ResolveSentinelProduct maps an instrument and level to a product family.
// The level may carry its variant ("L1_ERR"); otherwise product is used when
// it names a variant, and the default variant of the level applies last.
func ResolveSentinelProduct(instrument, level, product string) (SentinelProduct, error) {
	levels, ok := sentinelVariants[instrument]
	if !ok {
		return SentinelProduct{}, fmt.Errorf("%w: %s is not a Sentinel instrument", ErrUnsupportedInstrument, instrument)
	}

	base, variant, _ := strings.Cut(level, "_")
	variants, ok := levels[base]
	if !ok {
		return SentinelProduct{}, fmt.Errorf("%w: %q for %s", ErrUnsupportedLevel, level, instrument)
	}

	if variant == "" && slices.Contains(variants, product) {
		variant = product
	}
	if variant == "" {
		variant = variants[0]
	}
	if !slices.Contains(variants, variant) {
		return SentinelProduct{}, fmt.Errorf("%w: %q for %s %s", ErrUnsupportedProduct, variant, instrument, base)
	}

	sp := SentinelProduct{Mission: 3, Level: base, Variant: variant}
	switch instrument {
	case "OLCI":
		sp.Sensor = "OL"
	case "SLSTR":
		sp.Sensor = "SL"
	case "MSI":
		sp.Mission = 2
		sp.Sensor = "MSI"
	}
	return sp, nil
}

// ProductType returns the product type attribute used by the Copernicus
// catalogues: "OL_2_WFR___" for Sentinel-3, "S2MSI2A" for Sentinel-2.
func (p SentinelProduct) ProductType() string {
	if p.Mission == 2 {
		return "S2MSI" + strings.TrimPrefix(p.Level, "L")
	}
	return fmt.Sprintf("%s_%s_%s___", p.Sensor, strings.TrimPrefix(p.Level, "L"), p.Variant)
}
