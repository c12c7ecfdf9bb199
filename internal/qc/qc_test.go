package qc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name   string
		raw    any
		status Status
		flag   byte
	}{
		{"ascii string", "1", StatusOK, '1'},
		{"padded string", " 4 ", StatusOK, '4'},
		{"byte slice", []byte("2"), StatusOK, '2'},
		{"ascii byte", byte('3'), StatusOK, '3'},
		{"numeric byte", byte(8), StatusOK, '8'},
		{"rune", '9', StatusOK, '9'},
		{"int8 ascii", int8('1'), StatusOK, '1'},
		{"int code", 0, StatusOK, '0'},
		{"int64 code", int64(4), StatusOK, '4'},
		{"uint code", uint(1), StatusOK, '1'},
		{"uint16 code", uint16(2), StatusOK, '2'},
		{"uint32 code", uint32(5), StatusOK, '5'},
		{"uint64 code", uint64(6), StatusOK, '6'},
		{"integral float", float64(1), StatusOK, '1'},
		{"float32 code", float32(3), StatusOK, '3'},
		{"nil", nil, StatusMissing, 0},
		{"empty string", "", StatusMissing, 0},
		{"blank", " ", StatusMissing, 0},
		{"nul byte", byte(0), StatusMissing, 0},
		{"nul string", "\x00", StatusMissing, 0},
		{"nan", math.NaN(), StatusMissing, 0},
		{"letter", "A", StatusUnrecognized, 0},
		{"two digits", "12", StatusUnrecognized, 0},
		{"out of range int", 42, StatusUnrecognized, 0},
		{"fractional float", 1.5, StatusUnrecognized, 0},
		{"negative", int64(-1), StatusUnrecognized, 0},
		{"out of range uint", uint(10), StatusUnrecognized, 0},
		{"unsupported type", struct{}{}, StatusUnrecognized, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decode(tt.raw)
			assert.Equal(t, tt.status, got.Status)
			if tt.status == StatusOK {
				assert.Equal(t, tt.flag, got.Flag)
			}
		})
	}
}

func TestStagingEncodingIsStable(t *testing.T) {
	for _, r := range []Result{OK('1'), OK('0'), Missing(), Unrecognized("X"), Unrecognized("")} {
		encoded := r.String()
		again := Decode(encoded)
		assert.Equal(t, r.Status, again.Status, "status changed for %q", encoded)
		assert.Equal(t, encoded, again.String())
	}
}

func TestOKRejectsNonDigit(t *testing.T) {
	assert.Equal(t, StatusUnrecognized, OK('x').Status)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "ok", StatusOK.String())
	assert.Equal(t, "missing", StatusMissing.String())
	assert.Equal(t, "unrecognized", StatusUnrecognized.String())
}
