// Package netcdftest writes small ARGO profile files for tests.
package netcdftest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
)

// Fill is the _FillValue written for PRES, TEMP and PSAL.
const Fill float32 = 99999

// Profile is one column of an N_PROF x N_LEVELS file. Level slices and QC
// strings must all have the same length across the profiles of a file.
type Profile struct {
	Cycle     int32
	Latitude  float64
	Longitude float64
	// Juld is days since 1950-01-01.
	Juld float64

	Pres, Temp, Psal       []float32
	PresQC, TempQC, PsalQC string
}

// Levels returns the number of measurement levels.
func (p Profile) Levels() int { return len(p.Pres) }

// Write creates a classic NetCDF file at path in the ARGO profile layout.
// Parent directories are created.
func Write(path, platform string, profiles []Profile) error {
	if len(profiles) == 0 {
		return fmt.Errorf("no profiles for %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	cw, err := cdf.OpenWriter(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	fill, err := util.NewOrderedMap([]string{"_FillValue"}, map[string]any{"_FillValue": Fill})
	if err != nil {
		cw.Close()
		return err
	}

	n := len(profiles)
	lat := make([]float64, n)
	lon := make([]float64, n)
	juld := make([]float64, n)
	cycle := make([]int32, n)
	platforms := make([]string, n)
	pres := make([][]float32, n)
	temp := make([][]float32, n)
	psal := make([][]float32, n)
	presQC := make([]string, n)
	tempQC := make([]string, n)
	psalQC := make([]string, n)
	for i, p := range profiles {
		lat[i], lon[i], juld[i], cycle[i] = p.Latitude, p.Longitude, p.Juld, p.Cycle
		platforms[i] = platform
		pres[i], temp[i], psal[i] = p.Pres, p.Temp, p.Psal
		presQC[i], tempQC[i], psalQC[i] = p.PresQC, p.TempQC, p.PsalQC
	}

	perProfile := []string{"N_PROF"}
	perLevel := []string{"N_PROF", "N_LEVELS"}
	vars := []struct {
		name string
		v    api.Variable
	}{
		{"PLATFORM_NUMBER", api.Variable{Values: platforms, Dimensions: []string{"N_PROF", "STRING8"}}},
		{"CYCLE_NUMBER", api.Variable{Values: cycle, Dimensions: perProfile}},
		{"JULD", api.Variable{Values: juld, Dimensions: perProfile}},
		{"LATITUDE", api.Variable{Values: lat, Dimensions: perProfile}},
		{"LONGITUDE", api.Variable{Values: lon, Dimensions: perProfile}},
		{"PRES", api.Variable{Values: pres, Dimensions: perLevel, Attributes: fill}},
		{"TEMP", api.Variable{Values: temp, Dimensions: perLevel, Attributes: fill}},
		{"PSAL", api.Variable{Values: psal, Dimensions: perLevel, Attributes: fill}},
		{"PRES_QC", api.Variable{Values: presQC, Dimensions: perLevel}},
		{"TEMP_QC", api.Variable{Values: tempQC, Dimensions: perLevel}},
		{"PSAL_QC", api.Variable{Values: psalQC, Dimensions: perLevel}},
	}
	for _, v := range vars {
		if err := cw.AddVar(v.name, v.v); err != nil {
			cw.Close()
			return fmt.Errorf("add %s: %w", v.name, err)
		}
	}
	return cw.Close()
}

// Bytes writes the file into dir and returns its contents.
func Bytes(dir, platform string, profiles []Profile) ([]byte, error) {
	f, err := os.CreateTemp(dir, "fixture-*.nc")
	if err != nil {
		return nil, err
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	if err := Write(path, platform, profiles); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Column returns a profile with levels measurements, all flagged good.
// Pressure increases by 10 dbar per level.
func Column(cycle int32, lat, lon, juld float64, levels int) Profile {
	p := Profile{Cycle: cycle, Latitude: lat, Longitude: lon, Juld: juld}
	qc := make([]byte, levels)
	for i := 0; i < levels; i++ {
		p.Pres = append(p.Pres, float32(5+10*i))
		p.Temp = append(p.Temp, 28-float32(i))
		p.Psal = append(p.Psal, 34.5+float32(i)/10)
		qc[i] = '1'
	}
	p.PresQC, p.TempQC, p.PsalQC = string(qc), string(qc), string(qc)
	return p
}
