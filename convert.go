// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package opcuahub

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// normalize maps protocol values onto the scalar types kept in snapshots:
// bool, int64, uint64 (only above math.MaxInt64), float64 and string. A nil
// value is kept as absence. ok is false for arrays, structures and every
// other shape.
func normalize(v any) (out any, ok bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case bool, string, int64, float64:
		return x, true
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint:
		return normalizeUint(uint64(x)), true
	case uint64:
		return normalizeUint(x), true
	case float32:
		return float64(x), true
	}
	return nil, false
}

func normalizeUint(x uint64) any {
	if x <= math.MaxInt64 {
		return int64(x)
	}
	return x
}

// stringify renders a command value the way Coerce parses it back.
func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// Coerce converts v to the Go type gopcua encodes as t. The value is
// stringified first and parsed back according to t, so "1", 1 and true all
// write a Boolean true.
func Coerce(v any, t TypeID) (any, error) {
	s := strings.TrimSpace(stringify(v))

	switch t {
	case TypeBoolean:
		return parseBool(s)
	case TypeSByte:
		n, err := parseInt(s, 8)
		return int8(n), err
	case TypeByte:
		n, err := parseUint(s, 8)
		return uint8(n), err
	case TypeInt16:
		n, err := parseInt(s, 16)
		return int16(n), err
	case TypeUInt16:
		n, err := parseUint(s, 16)
		return uint16(n), err
	case TypeInt32:
		n, err := parseInt(s, 32)
		return int32(n), err
	case TypeUInt32:
		n, err := parseUint(s, 32)
		return uint32(n), err
	case TypeInt64:
		return parseInt(s, 64)
	case TypeUInt64:
		return parseUint(s, 64)
	case TypeFloat:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, malformed(s, t, err)
		}
		return float32(f), nil
	case TypeDouble:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, malformed(s, t, err)
		}
		return f, nil
	case TypeString:
		return stringify(v), nil
	case TypeDateTime:
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, malformed(s, t, err)
		}
		return ts, nil
	default:
		return nil, &ConfigError{Field: "data type", Value: t.String(), Err: ErrUnsupportedType}
	}
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, malformed(s, TypeBoolean, err)
	}
	return b, nil
}

// parseInt also accepts integral floats such as "5.0", which is what
// numeric UI controls send.
func parseInt(s string, bits int) (int64, error) {
	n, err := strconv.ParseInt(s, 10, bits)
	if err == nil {
		return n, nil
	}
	if f, ferr := strconv.ParseFloat(s, 64); ferr == nil && f == math.Trunc(f) {
		if n, err = strconv.ParseInt(strconv.FormatFloat(f, 'f', 0, 64), 10, bits); err == nil {
			return n, nil
		}
	}
	return 0, malformed(s, intType(bits, true), err)
}

func parseUint(s string, bits int) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, bits)
	if err == nil {
		return n, nil
	}
	if f, ferr := strconv.ParseFloat(s, 64); ferr == nil && f == math.Trunc(f) && f >= 0 {
		if n, err = strconv.ParseUint(strconv.FormatFloat(f, 'f', 0, 64), 10, bits); err == nil {
			return n, nil
		}
	}
	return 0, malformed(s, intType(bits, false), err)
}

func intType(bits int, signed bool) TypeID {
	var t TypeID
	switch bits {
	case 8:
		t = TypeSByte
	case 16:
		t = TypeInt16
	case 32:
		t = TypeInt32
	default:
		t = TypeInt64
	}
	if !signed {
		t++
	}
	return t
}

func malformed(s string, t TypeID, err error) error {
	return &ConfigError{Field: "value", Value: s, Err: fmt.Errorf("%w: not a %s: %v", ErrMalformedValue, t, err)}
}
