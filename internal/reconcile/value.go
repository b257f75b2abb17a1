package reconcile

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
)

// Equal reports whether two field values are the same. Comparison is
// type-sensitive: strings never equal numbers and booleans never equal
// numbers. Numbers compare by value regardless of their Go representation,
// so int 1, float64 1.0 and json.Number("1") are equal. Maps and lists
// compare structurally.
func Equal(a, b any) bool {
	return canonical(a) == canonical(b)
}

func canonical(v any) string {
	var b strings.Builder
	writeCanonical(&b, v)
	return b.String()
}

// compositeKey encodes the key fields of r. Each component is
// self-delimiting, so distinct tuples never collide.
func compositeKey(r Record, key KeySpec) (string, bool) {
	var b strings.Builder
	for i, field := range key {
		v, ok := r.Fields[field]
		if !ok {
			return "", false
		}
		if i > 0 {
			b.WriteByte('|')
		}
		writeCanonical(&b, v)
	}
	return b.String(), true
}

func writeCanonical(b *strings.Builder, v any) {
	switch x := v.(type) {
	case nil:
		b.WriteString("z")
	case bool:
		if x {
			b.WriteString("b1")
		} else {
			b.WriteString("b0")
		}
	case string:
		b.WriteString("s")
		b.WriteString(strconv.Quote(x))
	case json.Number:
		b.WriteString("n")
		b.WriteString(canonicalNumber(string(x)))
	case int:
		b.WriteString("n" + strconv.FormatInt(int64(x), 10))
	case int8:
		b.WriteString("n" + strconv.FormatInt(int64(x), 10))
	case int16:
		b.WriteString("n" + strconv.FormatInt(int64(x), 10))
	case int32:
		b.WriteString("n" + strconv.FormatInt(int64(x), 10))
	case int64:
		b.WriteString("n" + strconv.FormatInt(x, 10))
	case uint:
		b.WriteString("n" + strconv.FormatUint(uint64(x), 10))
	case uint8:
		b.WriteString("n" + strconv.FormatUint(uint64(x), 10))
	case uint16:
		b.WriteString("n" + strconv.FormatUint(uint64(x), 10))
	case uint32:
		b.WriteString("n" + strconv.FormatUint(uint64(x), 10))
	case uint64:
		b.WriteString("n" + strconv.FormatUint(x, 10))
	case float32:
		b.WriteString("n" + formatFloat(float64(x)))
	case float64:
		b.WriteString("n" + formatFloat(x))
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("{")
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			writeCanonical(b, x[k])
		}
		b.WriteString("}")
	case []any:
		b.WriteString("[")
		for i, e := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, e)
		}
		b.WriteString("]")
	default:
		// Typed containers such as []string or map[string]string: normalise
		// through JSON so they compare like their generic equivalents.
		data, err := json.Marshal(x)
		if err != nil {
			fmt.Fprintf(b, "?%#v", x)
			return
		}
		generic, err := decodeValue(data)
		if err != nil {
			fmt.Fprintf(b, "?%#v", x)
			return
		}
		writeCanonical(b, generic)
	}
}

func canonicalNumber(s string) string {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(i, 10)
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return strconv.FormatUint(u, 10)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return formatFloat(f)
	}
	return s
}

// maxExactInteger bounds the integral floats written as plain digits. It
// covers the whole int64 and uint64 range.
const maxExactInteger = 1 << 64

// formatFloat writes integral floats the way the integer types are
// written, so float64(1e18) and int64(1e18) share one form.
func formatFloat(f float64) string {
	if f == 0 {
		return "0"
	}
	if f == math.Trunc(f) && math.Abs(f) < maxExactInteger {
		return new(big.Float).SetFloat64(f).Text('f', 0)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
