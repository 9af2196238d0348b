package bulk

import (
	"hash/fnv"
	"sort"
	"strconv"

	"github.com/gofhir/quality/pool"
)

// StableHash computes a structural FNV-1a hash of a resource. Map keys
// are visited in sorted order so two semantically identical resources
// hash equal regardless of key ordering in the source JSON, which is
// what makes skip-unchanged detection safe across re-fetches.
func StableHash(resource map[string]any) uint64 {
	buf := pool.AcquireByteSlice()
	defer pool.ReleaseByteSlice(buf)

	*buf = appendStable(*buf, resource)

	h := fnv.New64a()
	h.Write(*buf)
	return h.Sum64()
}

// appendStable writes a canonical byte rendering of a JSON value.
func appendStable(b []byte, v any) []byte {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b = append(b, '{')
		for _, k := range keys {
			b = append(b, k...)
			b = append(b, ':')
			b = appendStable(b, val[k])
			b = append(b, ',')
		}
		b = append(b, '}')
	case []any:
		b = append(b, '[')
		for _, item := range val {
			b = appendStable(b, item)
			b = append(b, ',')
		}
		b = append(b, ']')
	case string:
		b = append(b, '"')
		b = append(b, val...)
		b = append(b, '"')
	case float64:
		b = strconv.AppendFloat(b, val, 'g', -1, 64)
	case bool:
		b = strconv.AppendBool(b, val)
	case nil:
		b = append(b, "null"...)
	default:
		// Non-JSON value passed in directly; fall back to its
		// formatted form.
		b = append(b, []byte(strconv.Quote(fmtAny(val)))...)
	}
	return b
}

func fmtAny(v any) string {
	switch val := v.(type) {
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}
