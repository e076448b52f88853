package utils

import (
	"bytes"
	"encoding/json"
	"sort"
)

// OrderedKV carries a value together with its sort key.
type OrderedKV[T any] struct {
	Value T
	Order int64
}

// OrderedKVMap marshals as a JSON object with entries sorted ascending by
// Order. Go maps serialize in key order, which is useless for a UI that
// renders conversations most-recent-first.
type OrderedKVMap[T any] map[string]OrderedKV[T]

// Put inserts value under key with the given sort key.
func (om OrderedKVMap[T]) Put(key string, value T, order int64) {
	om[key] = OrderedKV[T]{Value: value, Order: order}
}

func (om OrderedKVMap[T]) MarshalJSON() ([]byte, error) {
	type pair struct {
		key   string
		value T
		order int64
	}
	pairs := make([]pair, 0, len(om))
	for k, v := range om {
		pairs = append(pairs, pair{
			key:   k,
			value: v.Value,
			order: v.Order,
		})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].order == pairs[j].order {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].order < pairs[j].order
	})

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range pairs {
		if i > 0 {
			buf.WriteByte(',')
		}

		keyBytes, err := json.Marshal(p.key)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valueBytes, err := json.Marshal(p.value)
		if err != nil {
			return nil, err
		}
		buf.Write(valueBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
