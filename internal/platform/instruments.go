package platform

import (
	"fmt"
	"strings"
)

// Processing levels.
const (
	LevelL0  = "L0"
	LevelL1  = "L1"
	LevelL1A = "L1A"
	LevelL1B = "L1B"
	LevelL1C = "L1C"
	LevelGEO = "GEO"
	LevelL2  = "L2"
	LevelL2A = "L2A"
	LevelL3b = "L3b"
	LevelL3m = "L3m"
)

// Instrument describes how a sensor is named by each backend.
type Instrument struct {
	// Name is the canonical instrument name accepted on the command line.
	Name string

	// BrowserID is the "sen" parameter of the Ocean-Color Browser.
	BrowserID string

	// FileID is the leading letter of NASA file names, or the Sentinel collection.
	FileID string

	// CMRName is the short name root in the CMR catalogue.
	CMRName string

	// DataType is the file name token identifying the data stream (LAC, SNPP, ...).
	DataType string

	// Mission groups instruments sharing a file naming family (e.g. SNPP_VIIRS).
	Mission string
}

// IsVIIRS reports whether the instrument belongs to the VIIRS family.
func (i Instrument) IsVIIRS() bool {
	return strings.HasPrefix(i.Name, "VIIRS")
}

// IsMODIS reports whether the instrument belongs to the MODIS family.
func (i Instrument) IsMODIS() bool {
	return strings.HasPrefix(i.Name, "MODIS")
}

// IsSentinel reports whether the instrument is served by the Copernicus archives.
func (i Instrument) IsSentinel() bool {
	switch i.Name {
	case "OLCI", "SLSTR", "MSI":
		return true
	}
	return false
}

var instruments = map[string]Instrument{
	"SeaWiFS":     {Name: "SeaWiFS", BrowserID: "MLAC", FileID: "S", CMRName: "SEAWIFS", DataType: "LAC"},
	"MODIS-Aqua":  {Name: "MODIS-Aqua", BrowserID: "amod", FileID: "A", CMRName: "MODISA", DataType: "LAC", Mission: "AQUA_MODIS"},
	"MODIS-Terra": {Name: "MODIS-Terra", BrowserID: "tmod", FileID: "T", CMRName: "MODIST", DataType: "LAC", Mission: "TERRA_MODIS"},
	"OCTS":        {Name: "OCTS", BrowserID: "oc", FileID: "O", CMRName: "OCTS", DataType: "LAC"},
	"CZCS":        {Name: "CZCS", BrowserID: "cz", FileID: "C", CMRName: "CZCS"},
	"GOCI":        {Name: "GOCI", BrowserID: "goci", FileID: "G", CMRName: "GOCI"},
	"MERIS":       {Name: "MERIS", BrowserID: "RR", FileID: "M", DataType: "RR"},
	"MERIS-RR":    {Name: "MERIS-RR", BrowserID: "RR", FileID: "M", DataType: "RR"},
	"MERIS-FRS":   {Name: "MERIS-FRS", BrowserID: "FRS", FileID: "M", DataType: "FRS"},
	"VIIRSN":      {Name: "VIIRSN", BrowserID: "vrsn", FileID: "V", CMRName: "VIIRSN", DataType: "SNPP", Mission: "SNPP_VIIRS"},
	"VIIRSJ1":     {Name: "VIIRSJ1", BrowserID: "vrj1", FileID: "V", CMRName: "VIIRSJ1", DataType: "JPSS1", Mission: "JPSS1_VIIRS"},
	"HICO":        {Name: "HICO", BrowserID: "hi", FileID: "H", DataType: "ISS"},
	"OLCI":        {Name: "OLCI", BrowserID: "OL", FileID: "Sentinel3"},
	"SLSTR":       {Name: "SLSTR", BrowserID: "SL", FileID: "Sentinel3"},
	"MSI":         {Name: "MSI", BrowserID: "MSI", FileID: "Sentinel2"},
}

// LookupInstrument returns the instrument registered under name.
func LookupInstrument(name string) (Instrument, error) {
	inst, ok := instruments[name]
	if !ok {
		return Instrument{}, fmt.Errorf("%w: %q", ErrUnsupportedInstrument, name)
	}
	return inst, nil
}

// InstrumentNames lists every supported instrument.
func InstrumentNames() []string {
	names := make([]string, 0, len(instruments))
	for name := range instruments {
		names = append(names, name)
	}
	return names
}

// IsMERIS reports whether the instrument is one of the MERIS variants.
func (i Instrument) IsMERIS() bool {
	return strings.HasPrefix(i.Name, "MERIS")
}

// IsLevel1 reports whether level is a level 0/1 or navigation product.
func IsLevel1(level string) bool {
	switch level {
	case LevelL0, LevelGEO:
		return true
	}
	return strings.HasPrefix(level, "L1")
}

// IsLevel3 reports whether level is a binned or mapped level 3 product.
func IsLevel3(level string) bool {
	return level == LevelL3b || level == LevelL3m
}
