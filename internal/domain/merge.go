package domain

import (
	"fmt"
	"sort"
	"strconv"
)

// MergeByKey folds updates into base: rows of base whose key appears in
// updates are replaced, new keys are appended, and the result is sorted by
// key so repeated merges of the same inputs are identical. Columns of updates
// that base does not carry are ignored.
func MergeByKey(base, updates *Table, key string) (*Table, error) {
	updates, err := updates.Select(base.Names()...)
	if err != nil {
		return nil, fmt.Errorf("merge updates: %w", err)
	}
	baseKey, err := base.Column(key)
	if err != nil {
		return nil, fmt.Errorf("merge base: %w", err)
	}
	updKey, err := updates.Column(key)
	if err != nil {
		return nil, fmt.Errorf("merge updates: %w", err)
	}

	replaced := make(map[string]bool, updates.Len())
	for i := 0; i < updates.Len(); i++ {
		if k, ok := keyString(updKey, i); ok {
			replaced[k] = true
		}
	}
	kept := make([]int, 0, base.Len())
	for i := 0; i < base.Len(); i++ {
		if k, ok := keyString(baseKey, i); ok && replaced[k] {
			continue
		}
		kept = append(kept, i)
	}

	merged, err := Concat(base.Take(kept), updates)
	if err != nil {
		return nil, err
	}

	mergedKey, _ := merged.Column(key)
	order := make([]int, merged.Len())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return keyLess(mergedKey, order[a], order[b])
	})
	return merged.Take(order), nil
}

func keyString(c *Column, i int) (string, bool) {
	if !c.Valid[i] {
		return "", false
	}
	switch c.Kind {
	case KindInt:
		return strconv.FormatInt(c.Ints[i], 10), true
	case KindString, KindCategory:
		return c.Strings[i], true
	}
	return fmt.Sprint(c.Value(i)), true
}

// keyLess orders nulls last, integers numerically and everything else lexically.
func keyLess(c *Column, a, b int) bool {
	if !c.Valid[a] || !c.Valid[b] {
		return c.Valid[a] && !c.Valid[b]
	}
	if c.Kind == KindInt {
		return c.Ints[a] < c.Ints[b]
	}
	ka, _ := keyString(c, a)
	kb, _ := keyString(c, b)
	return ka < kb
}

// sortNumericAware sorts values numerically when every value is an integer,
// lexically otherwise.
func sortNumericAware(values []string) {
	nums := make(map[string]int64, len(values))
	for _, v := range values {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			sort.Strings(values)
			return
		}
		nums[v] = n
	}
	sort.Slice(values, func(a, b int) bool { return nums[values[a]] < nums[values[b]] })
}
