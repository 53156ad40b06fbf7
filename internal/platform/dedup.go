package platform

import (
	"strings"
	"time"

	"github.com/OceanOptics/getOC/internal/poi"
)

// Dedup removes repeated image names, keeping the first URL seen for each name.
func Dedup(images []poi.Image) []poi.Image {
	seen := make(map[string]struct{}, len(images))
	out := make([]poi.Image, 0, len(images))
	for _, img := range images {
		if _, ok := seen[img.Name]; ok {
			continue
		}
		seen[img.Name] = struct{}{}
		out = append(out, img)
	}
	return out
}

// nrtToken marks near-real-time granules in OB.DAAC file names.
const nrtToken = ".NRT"

// IsNRT reports whether the file name is a near-real-time granule.
func IsNRT(name string) bool {
	return strings.Contains(name, nrtToken)
}

// DropSupersededNRT removes near-real-time granules whose standard counterpart
// (same name without the NRT token) is also listed.
func DropSupersededNRT(images []poi.Image) []poi.Image {
	standard := make(map[string]struct{}, len(images))
	for _, img := range images {
		if !IsNRT(img.Name) {
			standard[img.Name] = struct{}{}
		}
	}

	out := make([]poi.Image, 0, len(images))
	for _, img := range images {
		if IsNRT(img.Name) {
			if _, ok := standard[strings.Replace(img.Name, nrtToken, "", 1)]; ok {
				continue
			}
		}
		out = append(out, img)
	}
	return out
}

// sentinel3GroupLength is the name prefix shared by every version of one
// Sentinel-3 acquisition (mission, product type and sensing start).
const sentinel3GroupLength = 29

// sentinel3Preferences are applied in order within an acquisition group:
// when both tokens are present, entries carrying the first are dropped.
var sentinel3Preferences = []struct {
	drop, keep string
}{
	{drop: "_O_", keep: "_R_"},     // reprocessed over operational
	{drop: "_NR_", keep: "_NT_"},   // non time critical over near real time
	{drop: "_LN1_", keep: "_MAR_"}, // marine over land processing centre
}

// msiTimeLayout is the timestamp format embedded in Sentinel-2 product names.
const msiTimeLayout = "20060102T150405"

// SelectMostRecent keeps the most recent version of every Sentinel product.
// Sentinel-3 versions are ranked by their timeliness and processing tokens;
// Sentinel-2 versions by the product discriminator timestamp closest to now.
// Other names pass through unchanged. Input order is preserved.
func SelectMostRecent(images []poi.Image, now time.Time) []poi.Image {
	dropped := make(map[string]struct{})

	s3Groups := make(map[string][]string)
	s2Groups := make(map[string][]string)
	for _, img := range images {
		switch {
		case strings.HasPrefix(img.Name, "S3"):
			key := img.Name
			if len(key) > sentinel3GroupLength {
				key = key[:sentinel3GroupLength]
			}
			s3Groups[key] = append(s3Groups[key], img.Name)
		case strings.HasPrefix(img.Name, "S2"):
			if key, _, ok := msiKey(img.Name); ok {
				s2Groups[key] = append(s2Groups[key], img.Name)
			}
		}
	}

	for _, names := range s3Groups {
		for _, name := range supersededSentinel3(names) {
			dropped[name] = struct{}{}
		}
	}
	for _, names := range s2Groups {
		for _, name := range supersededMSI(names, now) {
			dropped[name] = struct{}{}
		}
	}

	out := make([]poi.Image, 0, len(images))
	for _, img := range images {
		if _, ok := dropped[img.Name]; ok {
			continue
		}
		out = append(out, img)
	}
	return out
}

func supersededSentinel3(names []string) []string {
	remaining := uniqueStrings(names)
	if len(remaining) < 2 {
		return nil
	}

	var superseded []string
	for _, pref := range sentinel3Preferences {
		var withDrop, withKeep []string
		for _, name := range remaining {
			if strings.Contains(name, pref.drop) {
				withDrop = append(withDrop, name)
			}
			if strings.Contains(name, pref.keep) {
				withKeep = append(withKeep, name)
			}
		}
		if len(withDrop) == 0 || len(withKeep) == 0 {
			continue
		}

		kept := remaining[:0:0]
		for _, name := range remaining {
			if strings.Contains(name, pref.drop) {
				superseded = append(superseded, name)
				continue
			}
			kept = append(kept, name)
		}
		remaining = kept
	}
	return superseded
}

func supersededMSI(names []string, now time.Time) []string {
	names = uniqueStrings(names)
	if len(names) < 2 {
		return nil
	}

	best := ""
	var bestDist time.Duration
	for _, name := range names {
		_, ts, _ := msiKey(name)
		dist := now.Sub(ts)
		if dist < 0 {
			dist = -dist
		}
		if best == "" || dist < bestDist || (dist == bestDist && name > best) {
			best, bestDist = name, dist
		}
	}

	superseded := make([]string, 0, len(names)-1)
	for _, name := range names {
		if name != best {
			superseded = append(superseded, name)
		}
	}
	return superseded
}

// msiKey splits a Sentinel-2 product name
// (S2A_MSIL1C_20200816T153911_N0209_R011_T18SUF_20200816T190436.SAFE)
// into an acquisition key and its product discriminator timestamp.
// The processing baseline is excluded from the key so reprocessings group together.
func msiKey(name string) (string, time.Time, bool) {
	fields := strings.Split(name, "_")
	if len(fields) < 7 {
		return "", time.Time{}, false
	}

	stamp := fields[6]
	if len(stamp) < len(msiTimeLayout) {
		return "", time.Time{}, false
	}
	ts, err := time.Parse(msiTimeLayout, stamp[:len(msiTimeLayout)])
	if err != nil {
		return "", time.Time{}, false
	}

	key := strings.Join([]string{fields[0], fields[1], fields[2], fields[4], fields[5]}, "_")
	return key, ts, true
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
