package profile

import (
	"fmt"
	"math"
	"reflect"
	"strings"
)

const (
	defaultFill = 99999.0
	juldFill    = 999999.0
)

// rank returns 0 for scalars and strings, 1 for flat slices and 2 for
// slices of slices. Anything deeper is reported as 3.
func rank(values any) int {
	rv := reflect.ValueOf(values)
	r := 0
	for rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		r++
		if rv.Len() == 0 {
			break
		}
		rv = rv.Index(0)
		if r == 3 {
			break
		}
	}
	return r
}

// toFloat converts any numeric scalar to float64.
func toFloat(rv reflect.Value) (float64, bool) {
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			return 0, false
		}
		return toFloat(rv.Elem())
	default:
		return 0, false
	}
}

// fillValue returns the _FillValue attribute or def.
func fillValue(v *variable, def float64) float64 {
	if v == nil || v.Attrs == nil {
		return def
	}
	raw, ok := v.Attrs["_FillValue"]
	if !ok {
		return def
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() == reflect.Slice && rv.Len() > 0 {
		rv = rv.Index(0)
	}
	if f, ok := toFloat(rv); ok {
		return f
	}
	return def
}

// clean maps fill values, NaN and infinities to NaN.
func clean(x, fill float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return math.NaN()
	}
	if math.Abs(x-fill) <= 1e-6*math.Max(1, math.Abs(fill)) {
		return math.NaN()
	}
	return x
}

func floatSlice(rv reflect.Value, fill float64) ([]float64, error) {
	out := make([]float64, rv.Len())
	for i := range out {
		f, ok := toFloat(rv.Index(i))
		if !ok {
			return nil, fmt.Errorf("non-numeric element of type %s", rv.Index(i).Type())
		}
		out[i] = clean(f, fill)
	}
	return out, nil
}

// profileFloats reads a per-profile variable (one value per profile).
func profileFloats(v *variable, def float64) ([]float64, error) {
	fill := fillValue(v, def)
	rv := reflect.ValueOf(v.Values)
	switch rank(v.Values) {
	case 0:
		f, ok := toFloat(rv)
		if !ok {
			return nil, fmt.Errorf("non-numeric value of type %T", v.Values)
		}
		return []float64{clean(f, fill)}, nil
	case 1:
		return floatSlice(rv, fill)
	default:
		return nil, fmt.Errorf("expected at most one dimension, got %d", rank(v.Values))
	}
}

// levelFloats reads a per-level variable into one row per profile.
func levelFloats(v *variable, nProf int) ([][]float64, error) {
	fill := fillValue(v, defaultFill)
	rv := reflect.ValueOf(v.Values)
	switch rank(v.Values) {
	case 0:
		f, ok := toFloat(rv)
		if !ok {
			return nil, fmt.Errorf("non-numeric value of type %T", v.Values)
		}
		return [][]float64{{clean(f, fill)}}, nil
	case 1:
		flat, err := floatSlice(rv, fill)
		if err != nil {
			return nil, err
		}
		if nProf > 1 && len(flat) == nProf && onlyProfileDim(v.Dims) {
			rows := make([][]float64, nProf)
			for i, f := range flat {
				rows[i] = []float64{f}
			}
			return rows, nil
		}
		return [][]float64{flat}, nil
	case 2:
		rows := make([][]float64, rv.Len())
		for i := range rows {
			row, err := floatSlice(rv.Index(i), fill)
			if err != nil {
				return nil, err
			}
			rows[i] = row
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("expected at most two dimensions, got %d", rank(v.Values))
	}
}

func onlyProfileDim(dims []string) bool {
	return len(dims) == 1 && dims[0] == "N_PROF"
}

// qcRows reads a QC variable into one row of raw flags per profile. Char
// variables arrive as a string per profile; numeric ones as numbers.
func qcRows(v *variable, nProf int) [][]any {
	switch vals := v.Values.(type) {
	case string:
		return [][]any{stringFlags(vals)}
	case []string:
		if nProf > 1 && len(vals) == nProf && onlyProfileDim(v.Dims) {
			// One flag per profile.
			rows := make([][]any, len(vals))
			for i, s := range vals {
				rows[i] = []any{s}
			}
			return rows
		}
		if nProf == 1 && len(vals) > 1 && allSingleChar(vals) {
			row := make([]any, len(vals))
			for i, s := range vals {
				row[i] = s
			}
			return [][]any{row}
		}
		rows := make([][]any, len(vals))
		for i, s := range vals {
			rows[i] = stringFlags(s)
		}
		return rows
	}

	rv := reflect.ValueOf(v.Values)
	switch rank(v.Values) {
	case 0:
		return [][]any{{v.Values}}
	case 1:
		row := make([]any, rv.Len())
		for i := range row {
			row[i] = rv.Index(i).Interface()
		}
		if nProf > 1 && len(row) == nProf && onlyProfileDim(v.Dims) {
			rows := make([][]any, nProf)
			for i, f := range row {
				rows[i] = []any{f}
			}
			return rows
		}
		return [][]any{row}
	case 2:
		rows := make([][]any, rv.Len())
		for i := range rows {
			inner := rv.Index(i)
			if inner.Kind() == reflect.String {
				rows[i] = stringFlags(inner.String())
				continue
			}
			row := make([]any, inner.Len())
			for j := range row {
				row[j] = inner.Index(j).Interface()
			}
			rows[i] = row
		}
		return rows
	default:
		return nil
	}
}

func stringFlags(s string) []any {
	out := make([]any, len(s))
	for i := 0; i < len(s); i++ {
		out[i] = s[i]
	}
	return out
}

func allSingleChar(vals []string) bool {
	for _, s := range vals {
		if len(s) > 1 {
			return false
		}
	}
	return true
}

// profileStrings reads a char variable holding one string per profile.
func profileStrings(v *variable) []string {
	switch vals := v.Values.(type) {
	case string:
		return []string{strings.Trim(vals, " \x00")}
	case []string:
		out := make([]string, len(vals))
		for i, s := range vals {
			out[i] = strings.Trim(s, " \x00")
		}
		return out
	case []byte:
		return []string{strings.Trim(string(vals), " \x00")}
	default:
		return nil
	}
}

// at returns row[i] or NaN when i is out of range.
func at(row []float64, i int) float64 {
	if i < 0 || i >= len(row) {
		return math.NaN()
	}
	return row[i]
}

func optional(x float64) *float64 {
	if math.IsNaN(x) {
		return nil
	}
	return &x
}
