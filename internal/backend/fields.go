package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// fields is a decoded response object with keys folded so that amplix_gained,
// amplixGained and amplixgained all resolve to the same entry.
type fields map[string]json.RawMessage

func foldKey(k string) string {
	return strings.ToLower(strings.ReplaceAll(k, "_", ""))
}

// decodeObject accepts an object or an array whose first element is the object.
func decodeObject(b []byte) (fields, error) {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(b, &arr); err != nil {
			return nil, err
		}
		if len(arr) == 0 {
			return fields{}, nil
		}
		b = arr[0]
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	return foldFields(raw), nil
}

func decodeList(b []byte) ([]fields, error) {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) || len(b) == 0 {
		return nil, nil
	}
	if b[0] == '{' {
		// Some procedures wrap the rows: {"status":"ok","data":[...]}.
		f, err := decodeObject(b)
		if err != nil {
			return nil, err
		}
		if status, _ := f.String("status"); strings.EqualFold(status, statusError) {
			return []fields{f}, nil
		}
		for _, k := range []string{"data", "courses", "rows", "classes"} {
			if v, ok := f[k]; ok {
				return decodeList(v)
			}
		}
		return []fields{f}, nil
	}
	var arr []map[string]json.RawMessage
	if err := json.Unmarshal(b, &arr); err != nil {
		return nil, err
	}
	out := make([]fields, len(arr))
	for i, raw := range arr {
		out[i] = foldFields(raw)
	}
	return out, nil
}

func foldFields(raw map[string]json.RawMessage) fields {
	f := make(fields, len(raw))
	for k, v := range raw {
		f[foldKey(k)] = v
	}
	return f
}

func (f fields) lookup(keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := f[foldKey(k)]; ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return v, true
		}
	}
	return nil, false
}

func (f fields) String(keys ...string) (string, bool) {
	v, ok := f.lookup(keys...)
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, true
	}
	// Identifiers are sometimes numeric.
	return strings.TrimSpace(string(v)), true
}

// Int reads an integer field; a missing field reads as 0. Fractional values
// are rejected rather than truncated.
func (f fields) Int(keys ...string) (int, error) {
	n, err := f.Float(keys...)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", keys[0], err)
	}
	if n != math.Trunc(n) {
		return 0, fmt.Errorf("field %s: not an integer: %v", keys[0], n)
	}
	return int(n), nil
}

func (f fields) Float(keys ...string) (float64, error) {
	v, ok := f.lookup(keys...)
	if !ok {
		return 0, nil
	}
	s := strings.TrimSpace(string(v))
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(v, &s); err != nil {
			return 0, err
		}
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %s", v)
	}
	return n, nil
}

func (f fields) Bool(keys ...string) bool {
	v, ok := f.lookup(keys...)
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		b, _ = strconv.ParseBool(s)
		return b
	}
	var n float64
	if err := json.Unmarshal(v, &n); err == nil {
		return n != 0
	}
	return false
}
