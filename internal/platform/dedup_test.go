package platform_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/OceanOptics/getOC/internal/platform"
	"github.com/OceanOptics/getOC/internal/poi"
)

func images(names ...string) []poi.Image {
	out := make([]poi.Image, 0, len(names))
	for _, name := range names {
		out = append(out, poi.Image{Name: name, URL: "https://example.org/" + name})
	}
	return out
}

func names(imgs []poi.Image) []string {
	out := make([]string, 0, len(imgs))
	for _, img := range imgs {
		out = append(out, img.Name)
	}
	return out
}

func TestDedup_KeepsFirstURL(t *testing.T) {
	in := []poi.Image{
		{Name: "a.nc", URL: "https://one/a.nc"},
		{Name: "b.nc", URL: "https://one/b.nc"},
		{Name: "a.nc", URL: "https://two/a.nc"},
	}

	out := platform.Dedup(in)
	assert.Equal(t, []poi.Image{
		{Name: "a.nc", URL: "https://one/a.nc"},
		{Name: "b.nc", URL: "https://one/b.nc"},
	}, out)

	assert.Equal(t, out, platform.Dedup(out), "dedup is idempotent")
}

func TestDropSupersededNRT(t *testing.T) {
	in := images(
		"AQUA_MODIS.20200816T180000.L2.OC.NRT.nc",
		"AQUA_MODIS.20200816T180000.L2.OC.nc",
		"AQUA_MODIS.20200816T193000.L2.OC.NRT.nc",
	)

	out := platform.DropSupersededNRT(in)
	assert.Equal(t, []string{
		"AQUA_MODIS.20200816T180000.L2.OC.nc",
		"AQUA_MODIS.20200816T193000.L2.OC.NRT.nc",
	}, names(out))

	assert.True(t, platform.IsNRT("X.NRT.nc"))
	assert.False(t, platform.IsNRT("X.nc"))
}

func TestSelectMostRecent_Sentinel3(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	best := "S3A_OL_2_WFR____20200816T145135_20200816T145435_20210117T120000_0179_061_353_2340_MAR_R_NT_003.SEN3.zip"
	group := []string{
		"S3A_OL_2_WFR____20200816T145135_20200816T145435_20200816T170014_0179_061_353_2340_MAR_O_NR_002.SEN3.zip",
		"S3A_OL_2_WFR____20200816T145135_20200816T145435_20200817T234505_0179_061_353_2340_MAR_O_NT_002.SEN3.zip",
		"S3A_OL_2_WFR____20200816T145135_20200816T145435_20200817T234505_0179_061_353_2340_LN1_O_NT_002.SEN3.zip",
		best,
	}
	other := "S3B_OL_2_WFR____20200816T141228_20200816T141528_20200816T162010_0179_042_253_2340_MAR_O_NR_002.SEN3.zip"
	unrelated := "AQUA_MODIS.20200816T180000.L2.OC.nc"

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		in := append(append([]string{}, group...), other, unrelated)
		rng.Shuffle(len(in), func(a, b int) { in[a], in[b] = in[b], in[a] })

		out := names(platform.SelectMostRecent(images(in...), now))
		assert.ElementsMatch(t, []string{best, other, unrelated}, out, "shuffle %d", i)

		again := names(platform.SelectMostRecent(images(out...), now))
		assert.Equal(t, out, again, "selection is idempotent")
	}
}

func TestSelectMostRecent_KeepsGroupWhenOnlyOperational(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	in := images(
		"S3A_SL_2_WST____20200816T145135_20200816T145435_20200816T170014_0179_061_353_2340_MAR_O_NR_003.SEN3.zip",
		"S3A_SL_2_WST____20200816T145135_20200816T145435_20200817T234505_0179_061_353_2340_MAR_O_NT_003.SEN3.zip",
	)

	out := platform.SelectMostRecent(in, now)
	assert.Equal(t, []string{
		"S3A_SL_2_WST____20200816T145135_20200816T145435_20200817T234505_0179_061_353_2340_MAR_O_NT_003.SEN3.zip",
	}, names(out))
}

func TestSelectMostRecent_MSI(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	best := "S2A_MSIL2A_20200816T153621_N0500_R068_T18SVF_20230415T101010.SAFE.zip"
	in := []string{
		"S2A_MSIL2A_20200816T153621_N0214_R068_T18SVF_20200816T194805.SAFE.zip",
		best,
		"S2A_MSIL2A_20200816T153621_N0214_R068_T18SVG_20200816T194805.SAFE.zip",
	}

	for i := 0; i < len(in); i++ {
		rotated := append(append([]string{}, in[i:]...), in[:i]...)
		out := names(platform.SelectMostRecent(images(rotated...), now))
		assert.ElementsMatch(t, []string{best, "S2A_MSIL2A_20200816T153621_N0214_R068_T18SVG_20200816T194805.SAFE.zip"}, out)
	}
}
