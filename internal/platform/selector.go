package platform

import (
	"time"
)

// CatalogLatency is the ingestion delay of the CMR catalogue. Datasets with
// acquisitions more recent than this are served by the Ocean-Color Browser.
const CatalogLatency = 48 * time.Hour

// Select picks the backend for a run, given the most recent POI timestamp.
//
//  1. OLCI, SLSTR and MSI are served by Copernicus Data Space.
//  2. Level 0/1/GEO products, MERIS, HICO and level 1/2 acquisitions younger
//     than CatalogLatency go to the Ocean-Color Browser. The browser does not
//     list level 3 products, so recent level 3 queries stay on the catalogue.
//  3. Everything else is served by the CMR catalogue.
func Select(now, mostRecent time.Time, instrument, level string) (Kind, error) {
	inst, err := LookupInstrument(instrument)
	if err != nil {
		return "", err
	}

	if inst.IsSentinel() {
		return KindCDSE, nil
	}

	switch level {
	case LevelL0, LevelL1, LevelL1A, LevelGEO:
		return KindOceanColor, nil
	}
	if inst.IsMERIS() || inst.Name == "HICO" {
		return KindOceanColor, nil
	}
	if !IsLevel3(level) && now.Sub(mostRecent) < CatalogLatency {
		return KindOceanColor, nil
	}

	return KindCMR, nil
}
