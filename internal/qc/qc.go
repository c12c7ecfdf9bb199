// Package qc decodes ARGO quality-control flags.
//
// A flag arrives in many encodings depending on how the file was written: a
// one-character string, a raw byte, a byte slice or a small integer. Decode
// maps all of them to a tagged Result so callers never have to guess.
package qc

import (
	"fmt"
	"math"
	"strings"
)

// Status tags a decoded QC value.
type Status uint8

const (
	// StatusMissing means no flag was recorded for the value.
	StatusMissing Status = iota
	// StatusOK means the flag decoded to one of '0'..'9'.
	StatusOK
	// StatusUnrecognized means the raw value could not be decoded.
	StatusUnrecognized
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusMissing:
		return "missing"
	case StatusUnrecognized:
		return "unrecognized"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

const invalidPrefix = "invalid("

// Result is the outcome of decoding one QC value.
type Result struct {
	Status Status
	Flag   byte   // '0'..'9' when Status is StatusOK
	Raw    string // raw input when Status is StatusUnrecognized
}

// OK returns a decoded flag result. flag must be an ASCII digit.
func OK(flag byte) Result {
	if flag < '0' || flag > '9' {
		return Result{Status: StatusUnrecognized, Raw: string([]byte{flag})}
	}
	return Result{Status: StatusOK, Flag: flag}
}

// Missing returns the result for an absent flag.
func Missing() Result {
	return Result{Status: StatusMissing}
}

// Unrecognized returns the result for an undecodable raw value.
func Unrecognized(raw string) Result {
	return Result{Status: StatusUnrecognized, Raw: raw}
}

// IsOK reports whether a flag was decoded.
func (r Result) IsOK() bool { return r.Status == StatusOK }

// String encodes the result for staging: the flag digit, "" when missing, or
// "invalid(<raw>)" when unrecognized. Decode(r.String()) has the same status.
func (r Result) String() string {
	switch r.Status {
	case StatusOK:
		return string([]byte{r.Flag})
	case StatusUnrecognized:
		return invalidPrefix + r.Raw + ")"
	default:
		return ""
	}
}

// Decode maps a raw QC value to a Result.
func Decode(raw any) Result {
	switch v := raw.(type) {
	case nil:
		return Missing()
	case Result:
		return v
	case string:
		return decodeString(v)
	case []byte:
		return decodeString(string(v))
	case byte:
		return decodeByte(v)
	case rune:
		if v < 0 || v > 0x7f {
			return Unrecognized(string(v))
		}
		return decodeByte(byte(v))
	case int8:
		return decodeByte(byte(v))
	case int:
		return decodeInt(int64(v))
	case int16:
		return decodeInt(int64(v))
	case int64:
		return decodeInt(v)
	case uint:
		if uint64(v) > math.MaxInt64 {
			return Unrecognized(fmt.Sprint(v))
		}
		return decodeInt(int64(v))
	case uint16:
		return decodeInt(int64(v))
	case uint32:
		return decodeInt(int64(v))
	case uint64:
		if v > math.MaxInt64 {
			return Unrecognized(fmt.Sprint(v))
		}
		return decodeInt(int64(v))
	case float32:
		return decodeFloat(float64(v))
	case float64:
		return decodeFloat(v)
	default:
		return Unrecognized(fmt.Sprintf("%v", v))
	}
}

// decodeByte handles single bytes, which may be either an ASCII character or
// a small numeric code depending on the writer.
func decodeByte(b byte) Result {
	switch {
	case b == 0 || b == ' ':
		return Missing()
	case b >= '0' && b <= '9':
		return OK(b)
	case b <= 9:
		return OK('0' + b)
	default:
		return Unrecognized(string([]byte{b}))
	}
}

func decodeString(s string) Result {
	if strings.HasPrefix(s, invalidPrefix) && strings.HasSuffix(s, ")") {
		return Unrecognized(s[len(invalidPrefix) : len(s)-1])
	}
	t := strings.Trim(s, " \x00")
	if t == "" {
		return Missing()
	}
	if len(t) == 1 && t[0] >= '0' && t[0] <= '9' {
		return OK(t[0])
	}
	return Unrecognized(s)
}

func decodeInt(n int64) Result {
	if n >= 0 && n <= 9 {
		return OK(byte('0' + n))
	}
	// ASCII codes stored in an integer variable.
	if n >= '0' && n <= '9' {
		return OK(byte(n))
	}
	if n == ' ' {
		return Missing()
	}
	return Unrecognized(fmt.Sprint(n))
}

func decodeFloat(f float64) Result {
	if math.IsNaN(f) {
		return Missing()
	}
	if math.IsInf(f, 0) || f != math.Trunc(f) {
		return Unrecognized(fmt.Sprint(f))
	}
	return decodeInt(int64(f))
}
