package db

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document helpers shared by the backends that evaluate updates in process
// (memory, pebble, redis). Every stored value goes through the bson codec
// first, so all backends agree on value shapes.

func encodeDoc(doc bson.M) ([]byte, error) {
	if doc == nil {
		doc = bson.M{}
	}
	return bson.Marshal(doc)
}

func decodeDoc(raw []byte) (bson.M, error) {
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = bson.M{}
	}
	return doc, nil
}

func normalizeDoc(doc bson.M) (bson.M, error) {
	raw, err := encodeDoc(doc)
	if err != nil {
		return nil, err
	}
	return decodeDoc(raw)
}

func normalizeValues(values []interface{}) ([]interface{}, error) {
	raw, err := bson.Marshal(bson.M{"v": values})
	if err != nil {
		return nil, err
	}
	var out bson.M
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	arr, _ := out["v"].(primitive.A)
	return []interface{}(arr), nil
}

// resolveServerTimestamps returns a copy of doc with every ServerTimestamp
// placeholder replaced by now.
func resolveServerTimestamps(doc bson.M, now time.Time) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		if IsServerTimestamp(v) {
			out[k] = now
			continue
		}
		if m, ok := asMap(v); ok {
			out[k] = resolveServerTimestamps(m, now)
			continue
		}
		out[k] = v
	}
	return out
}

// mergeDeep merges src into dst. Nested maps merge recursively, every other
// value replaces the destination value.
func mergeDeep(dst, src bson.M) bson.M {
	if dst == nil {
		dst = bson.M{}
	}
	for k, v := range src {
		srcMap, srcIsMap := asMap(v)
		dstMap, dstIsMap := asMap(dst[k])
		if srcIsMap && dstIsMap {
			dst[k] = mergeDeep(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
	return dst
}

func applyTopLevel(dst, fields bson.M) bson.M {
	if dst == nil {
		dst = bson.M{}
	}
	for k, v := range fields {
		dst[k] = v
	}
	return dst
}

func arrayField(doc bson.M, field string) (primitive.A, error) {
	v, ok := doc[field]
	if !ok || v == nil {
		return primitive.A{}, nil
	}
	arr, ok := v.(primitive.A)
	if !ok {
		return nil, fmt.Errorf("%s: %w", field, ErrNotAnArray)
	}
	return arr, nil
}

func unionValues(arr primitive.A, values []interface{}) primitive.A {
	out := append(primitive.A{}, arr...)
	for _, v := range values {
		if !containsValue(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func removeValues(arr primitive.A, values []interface{}) primitive.A {
	out := primitive.A{}
	for _, el := range arr {
		if !containsValue(values, el) {
			out = append(out, el)
		}
	}
	return out
}

func containsValue(arr []interface{}, v interface{}) bool {
	for _, el := range arr {
		if valuesEqual(el, v) {
			return true
		}
	}
	return false
}

// valuesEqual compares two normalized bson values structurally. Map key order
// and numeric width are ignored.
func valuesEqual(a, b interface{}) bool {
	if am, ok := asMap(a); ok {
		bm, ok := asMap(b)
		if !ok || len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !valuesEqual(av, bv) {
				return false
			}
		}
		return true
	}

	if aa, ok := asArray(a); ok {
		ba, ok := asArray(b)
		if !ok || len(aa) != len(ba) {
			return false
		}
		for i := range aa {
			if !valuesEqual(aa[i], ba[i]) {
				return false
			}
		}
		return true
	}

	if an, ok := asNumber(a); ok {
		bn, ok := asNumber(b)
		return ok && an == bn
	}

	return reflect.DeepEqual(a, b)
}

func asMap(v interface{}) (bson.M, bool) {
	switch m := v.(type) {
	case bson.M:
		return m, true
	case map[string]interface{}:
		return bson.M(m), true
	case bson.D:
		return m.Map(), true
	}
	return nil, false
}

func asArray(v interface{}) ([]interface{}, bool) {
	switch a := v.(type) {
	case primitive.A:
		return a, true
	case []interface{}:
		return a, true
	}
	return nil, false
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func lookupPath(doc bson.M, path string) (interface{}, bool) {
	var cur interface{} = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// matchFilter evaluates the subset of mongo filter syntax produced by
// FilterBuilder: equality (with array-contains semantics), $eq, $ne, $in,
// $nin and $exists.
func matchFilter(doc bson.M, filter bson.M) (bool, error) {
	normalized, err := normalizeDoc(filter)
	if err != nil {
		return false, err
	}

	for field, cond := range normalized {
		value, present := lookupPath(doc, field)

		ops, isOps := asMap(cond)
		if !isOps || !hasOperators(ops) {
			if !present || !matchEq(value, cond) {
				return false, nil
			}
			continue
		}

		for op, arg := range ops {
			ok, err := matchOperator(op, value, present, arg)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
	}
	return true, nil
}

func hasOperators(m bson.M) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func matchOperator(op string, value interface{}, present bool, arg interface{}) (bool, error) {
	switch op {
	case "$eq":
		return present && matchEq(value, arg), nil
	case "$ne":
		return !present || !matchEq(value, arg), nil
	case "$in":
		candidates, _ := asArray(arg)
		for _, c := range candidates {
			if present && matchEq(value, c) {
				return true, nil
			}
		}
		return false, nil
	case "$nin":
		candidates, _ := asArray(arg)
		for _, c := range candidates {
			if present && matchEq(value, c) {
				return false, nil
			}
		}
		return true, nil
	case "$exists":
		want, _ := arg.(bool)
		return present == want, nil
	}
	return false, fmt.Errorf("%s: %w", op, ErrUnsupportedQ)
}

func matchEq(value, want interface{}) bool {
	if valuesEqual(value, want) {
		return true
	}
	if arr, ok := asArray(value); ok {
		for _, el := range arr {
			if valuesEqual(el, want) {
				return true
			}
		}
	}
	return false
}
