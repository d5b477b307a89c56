package fieldpath

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Resolve walks record one dot-separated segment at a time. ok is false if
// any segment is missing, if an intermediate value is not a mapping, or if
// the final value is nil.
func Resolve(record map[string]interface{}, path string) (v interface{}, ok bool) {
	if record == nil || path == "" {
		return nil, false
	}

	var cur interface{} = record
	for _, seg := range strings.Split(path, ".") {
		switch m := cur.(type) {
		case map[string]interface{}:
			cur, ok = m[seg]
		case map[interface{}]interface{}:
			// Some decoders (YAML, older msgpack settings) produce these
			cur, ok = m[seg]
		default:
			return nil, false
		}
		if !ok {
			return nil, false
		}
	}

	if cur == nil {
		return nil, false
	}
	return cur, true
}

// String converts a resolved value to the text we send to Redis. It is the
// only place where record values are stringified, so keys, members and
// string values all follow the same rules.
func String(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int8:
		return strconv.FormatInt(int64(t), 10)
	case int16:
		return strconv.FormatInt(int64(t), 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case uint8:
		return strconv.FormatUint(uint64(t), 10)
	case uint16:
		return strconv.FormatUint(uint64(t), 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[interface{}]interface{}:
		return String(stringKeys(t))
	}

	// Nested structures are stored as JSON so they stay readable in Redis
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// Float converts a resolved value into a sorted set score. Numeric strings
// are accepted since many log sources ship numbers as text.
func Float(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int8:
		return float64(t), nil
	case int16:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint:
		return float64(t), nil
	case uint8:
		return float64(t), nil
	case uint16:
		return float64(t), nil
	case uint32:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("can't parse %q as a number: %v", t, err)
		}
		return f, nil
	case []byte:
		return Float(string(t))
	}
	return 0, fmt.Errorf("a value of type %T can't be used as a number", v)
}

// stringKeys converts a map with interface keys so encoding/json can
// marshal it.
func stringKeys(m map[interface{}]interface{}) map[string]interface{} {
	r := make(map[string]interface{}, len(m))
	for k, v := range m {
		if n, ok := v.(map[interface{}]interface{}); ok {
			v = stringKeys(n)
		}
		r[fmt.Sprintf("%v", k)] = v
	}
	return r
}
