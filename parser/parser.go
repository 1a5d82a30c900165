// Package parser substitutes {{trigger.<path>}} placeholders inside action
// parameter documents using the run's trigger payload.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/flowcatalyst/pipeline/types"
)

var placeholderPattern = regexp.MustCompile(`\{\{trigger\.([\w.]+)\}\}`)

// Documents are tree-shaped by construction; the depth guard is a safety net
// against pathological inputs.
const maxDepth = 100

// Resolve deep-copies doc with every placeholder token in its string values
// replaced by the matching trigger payload value, stringified. Tokens whose
// path is absent from the payload stay verbatim. Numbers, booleans and nulls
// pass through unchanged; arrays keep order and length.
func Resolve(doc types.Document, trigger types.Document) types.Document {
	return resolve(doc, trigger, 0)
}

// ResolveString substitutes placeholder tokens in a single string.
func ResolveString(s string, trigger types.Document) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		path := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := lookup(trigger, path)
		if !ok {
			return match
		}
		return value.Scalar()
	})
}

func resolve(doc types.Document, trigger types.Document, depth int) types.Document {
	if depth > maxDepth {
		return doc
	}

	switch doc.Kind() {
	case types.KindString:
		s, _ := doc.Text()
		return types.NewString(ResolveString(s, trigger))
	case types.KindArray:
		items := doc.Items()
		resolved := make([]types.Document, 0, len(items))
		for _, item := range items {
			resolved = append(resolved, resolve(item, trigger, depth+1))
		}
		return types.NewArray(resolved...)
	case types.KindObject:
		obj := types.NewObject()
		for _, key := range doc.Keys() {
			value, _ := doc.Get(key)
			_ = obj.Set(key, resolve(value, trigger, depth+1))
		}
		return obj
	default:
		return doc
	}
}

// lookup walks a dot path through the payload. Numeric segments index into
// arrays, everything else keys into objects.
func lookup(trigger types.Document, path string) (types.Document, bool) {
	current := trigger
	for _, segment := range strings.Split(path, ".") {
		switch current.Kind() {
		case types.KindArray:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= current.Len() {
				return types.Document{}, false
			}
			current = current.Items()[idx]
		case types.KindObject:
			next, ok := current.Get(segment)
			if !ok {
				return types.Document{}, false
			}
			current = next
		default:
			return types.Document{}, false
		}
	}
	return current, true
}
