package source

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

var numberNoise = strings.NewReplacer(",", "", "¥", "", "￥", "", "円", "", " ", "")

// toInt converts a decoded JSON value to an int. Marketplaces are not
// consistent about sending numbers or numeric strings.
func toInt(v any) (int, error) {
	switch n := v.(type) {
	case nil:
		return 0, fmt.Errorf("missing value")
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("invalid number %v", n)
		}
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case string:
		s := numberNoise.Replace(strings.TrimSpace(n))
		if s == "" {
			return 0, fmt.Errorf("empty number")
		}
		i, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func stringField(rec Record, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	switch v := rec[key].(type) {
	case string:
		return strings.TrimSpace(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}
