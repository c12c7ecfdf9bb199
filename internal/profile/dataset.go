package profile

import (
	"fmt"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

// variable is a decoded NetCDF variable: its values in whatever Go shape
// the reader produced (scalar, slice or slice of slices), its dimension
// names and its attributes.
type variable struct {
	Values any
	Dims   []string
	Attrs  map[string]any
}

// dataset is the subset of a NetCDF file the parser reads.
type dataset interface {
	// Var returns the named variable, or ok=false when it is absent.
	Var(name string) (v *variable, ok bool, err error)
	// Dim returns the length of a dimension, or ok=false when undefined.
	Dim(name string) (n int, ok bool)
	Close()
}

// opener opens a dataset from a path.
type opener func(path string) (dataset, error)

// openNetCDF opens a classic or HDF5-based NetCDF file.
func openNetCDF(path string) (dataset, error) {
	g, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open netcdf: %w", err)
	}
	return &ncDataset{group: g}, nil
}

type ncDataset struct {
	group api.Group
}

func (d *ncDataset) Var(name string) (*variable, bool, error) {
	found := false
	for _, v := range d.group.ListVariables() {
		if v == name {
			found = true
			break
		}
	}
	if !found {
		return nil, false, nil
	}

	v, err := d.group.GetVariable(name)
	if err != nil {
		return nil, false, fmt.Errorf("read variable %s: %w", name, err)
	}

	attrs := make(map[string]any)
	if v.Attributes != nil {
		for _, k := range v.Attributes.Keys() {
			if val, ok := v.Attributes.Get(k); ok {
				attrs[k] = val
			}
		}
	}
	return &variable{Values: v.Values, Dims: v.Dimensions, Attrs: attrs}, true, nil
}

func (d *ncDataset) Dim(name string) (int, bool) {
	n, ok := d.group.GetDimension(name)
	return int(n), ok
}

func (d *ncDataset) Close() {
	d.group.Close()
}
