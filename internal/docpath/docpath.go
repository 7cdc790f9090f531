// Package docpath reads and writes values in a nested form document using
// dotted paths with optional integer array indices, e.g.
// "locations[0].address.city". Writes auto-vivify missing intermediate
// containers: an array when the next segment is an index, an object otherwise.
// Paths are always concrete; there is no wildcard or query support.
package docpath

import (
	"fmt"
	"strconv"
	"strings"
)

// segment is one step of a parsed path: a map key or an array index.
type segment struct {
	key     string
	index   int
	isIndex bool
}

func parse(path string) ([]segment, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("empty path")
	}
	var segs []segment
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return nil, fmt.Errorf("empty segment in path %q", path)
		}
		for part != "" {
			open := strings.IndexByte(part, '[')
			if open == -1 {
				segs = append(segs, segment{key: part})
				break
			}
			if open > 0 {
				segs = append(segs, segment{key: part[:open]})
			}
			closing := strings.IndexByte(part, ']')
			if closing < open {
				return nil, fmt.Errorf("malformed index in path segment %q", part)
			}
			idx, err := strconv.Atoi(part[open+1 : closing])
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("invalid array index in path segment %q", part)
			}
			segs = append(segs, segment{index: idx, isIndex: true})
			part = part[closing+1:]
		}
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("empty path")
	}
	if segs[0].isIndex {
		return nil, fmt.Errorf("path %q may not start with an array index", path)
	}
	return segs, nil
}

// Get returns the value at path inside doc, and whether it exists.
func Get(doc map[string]any, path string) (any, bool) {
	segs, err := parse(path)
	if err != nil {
		return nil, false
	}
	var cur any = doc
	for _, s := range segs {
		if s.isIndex {
			arr, ok := cur.([]any)
			if !ok || s.index >= len(arr) {
				return nil, false
			}
			cur = arr[s.index]
			continue
		}
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[s.key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at path inside doc, mutating it in place and creating
// missing intermediate objects and arrays. Arrays are grown with nil padding
// as needed to reach the index.
func Set(doc map[string]any, path string, value any) error {
	segs, err := parse(path)
	if err != nil {
		return err
	}
	return setObj(doc, segs, value)
}

// setObj writes value under obj following segs; segs[0] is always a key.
func setObj(obj map[string]any, segs []segment, value any) error {
	s := segs[0]
	rest := segs[1:]
	if len(rest) == 0 {
		obj[s.key] = value
		return nil
	}
	if rest[0].isIndex {
		arr, _ := obj[s.key].([]any)
		arr, err := setArr(arr, rest, value)
		if err != nil {
			return err
		}
		obj[s.key] = arr
		return nil
	}
	child, ok := obj[s.key].(map[string]any)
	if !ok {
		child = make(map[string]any)
		obj[s.key] = child
	}
	return setObj(child, rest, value)
}

// setArr writes value into arr; segs[0] is always an index. The (possibly
// reallocated) array is returned so the caller can re-anchor it.
func setArr(arr []any, segs []segment, value any) ([]any, error) {
	s := segs[0]
	rest := segs[1:]
	for len(arr) <= s.index {
		arr = append(arr, nil)
	}
	if len(rest) == 0 {
		arr[s.index] = value
		return arr, nil
	}
	if rest[0].isIndex {
		inner, _ := arr[s.index].([]any)
		inner, err := setArr(inner, rest, value)
		if err != nil {
			return nil, err
		}
		arr[s.index] = inner
		return arr, nil
	}
	elem, ok := arr[s.index].(map[string]any)
	if !ok {
		elem = make(map[string]any)
		arr[s.index] = elem
	}
	if err := setObj(elem, rest, value); err != nil {
		return nil, err
	}
	return arr, nil
}
