// Package canonical turns raw OpenAPI/Swagger documents into an
// order-independent tree suitable for structural comparison.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// ErrNotAPIDocument is returned when the input parses but does not look like
// an OpenAPI or Swagger interface description.
var ErrNotAPIDocument = errors.New("not an OpenAPI/Swagger document")

// Kind discriminates the node variants of a canonical tree.
type Kind int

const (
	KindObject Kind = iota
	KindArray
	KindSet
	KindScalar
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindSet:
		return "set"
	default:
		return "scalar"
	}
}

// Node is one node of a canonical tree. Exactly one of the variant fields is
// populated, selected by Kind.
type Node struct {
	Kind   Kind
	Object map[string]*Node
	Array  []*Node
	Set    map[string]struct{}
	Scalar string // canonical literal, e.g. `"id"`, `42`, `true`, `null`
}

// Document is a parsed, canonicalized interface description plus its content
// hash, used for cheap equality short-circuiting.
type Document struct {
	Root *Node
	Hash string
}

// Array-valued keys whose member order carries no meaning in OpenAPI and
// Swagger documents. They are normalized to sets of member identity.
var setKeys = map[string]bool{
	"required": true,
	"tags":     true,
	"schemes":  true,
	"consumes": true,
	"produces": true,
}

// Parse canonicalizes a raw document. JSON is tried first, then YAML.
func Parse(raw []byte) (*Document, error) {
	var value interface{}
	switch {
	case gjson.ValidBytes(raw):
		value = gjson.ParseBytes(raw).Value()
	default:
		if err := yaml.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("parsing document: %w", err)
		}
	}

	top, ok := asStringMap(value)
	if !ok {
		return nil, ErrNotAPIDocument
	}
	if _, isOAS := top["openapi"]; !isOAS {
		if _, isSwagger := top["swagger"]; !isSwagger {
			return nil, ErrNotAPIDocument
		}
	}

	root := fromValue(top, "")
	return &Document{Root: root, Hash: HashNode(root)}, nil
}

// HashNode returns the hex SHA-256 of a node's deterministic serialization.
func HashNode(n *Node) string {
	sum := sha256.Sum256([]byte(Render(n)))
	return hex.EncodeToString(sum[:])
}

// Render serializes a node deterministically: object keys sorted, set
// members sorted and rendered as arrays, scalars as canonical literals.
// The output is valid JSON, which makes stored values readable as-is.
func Render(n *Node) string {
	if n == nil {
		return "null"
	}
	var b strings.Builder
	render(n, &b)
	return b.String()
}

func render(n *Node, b *strings.Builder) {
	switch n.Kind {
	case KindObject:
		keys := make([]string, 0, len(n.Object))
		for k := range n.Object {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(quote(k))
			b.WriteByte(':')
			render(n.Object[k], b)
		}
		b.WriteByte('}')
	case KindArray:
		b.WriteByte('[')
		for i, el := range n.Array {
			if i > 0 {
				b.WriteByte(',')
			}
			render(el, b)
		}
		b.WriteByte(']')
	case KindSet:
		members := make([]string, 0, len(n.Set))
		for m := range n.Set {
			members = append(members, m)
		}
		sort.Strings(members)
		b.WriteByte('[')
		for i, m := range members {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(quote(m))
		}
		b.WriteByte(']')
	default:
		b.WriteString(n.Scalar)
	}
}

// Equal reports whether two canonical trees are structurally identical.
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	return Render(a) == Render(b)
}

// fromValue converts a decoded JSON/YAML value into a canonical node. The
// key argument is the object key under which the value appears; it drives
// the set and parameter-list normalization rules.
func fromValue(v interface{}, key string) *Node {
	switch val := v.(type) {
	case map[string]interface{}:
		return objectNode(val)
	case map[interface{}]interface{}:
		m, _ := asStringMap(val)
		return objectNode(m)
	case []interface{}:
		if setKeys[key] && allStrings(val) {
			set := make(map[string]struct{}, len(val))
			for _, el := range val {
				set[el.(string)] = struct{}{}
			}
			return &Node{Kind: KindSet, Set: set}
		}
		if key == "parameters" {
			if obj, ok := parametersByIdentity(val); ok {
				return obj
			}
		}
		arr := make([]*Node, len(val))
		for i, el := range val {
			arr[i] = fromValue(el, "")
		}
		return &Node{Kind: KindArray, Array: arr}
	default:
		return &Node{Kind: KindScalar, Scalar: scalarLiteral(val)}
	}
}

func objectNode(m map[string]interface{}) *Node {
	obj := make(map[string]*Node, len(m))
	for k, v := range m {
		obj[k] = fromValue(v, k)
	}
	return &Node{Kind: KindObject, Object: obj}
}

// parametersByIdentity re-keys a parameter list by "name(in)" so that
// parameter order, which is presentation-only, never shows up as a change.
func parametersByIdentity(val []interface{}) (*Node, bool) {
	obj := make(map[string]*Node, len(val))
	for _, el := range val {
		m, ok := asStringMap(el)
		if !ok {
			return nil, false
		}
		name, _ := m["name"].(string)
		if name == "" {
			return nil, false
		}
		id := name
		if in, ok := m["in"].(string); ok && in != "" {
			id = fmt.Sprintf("%s(%s)", name, in)
		}
		obj[id] = objectNode(m)
	}
	return &Node{Kind: KindObject, Object: obj}, true
}

func allStrings(val []interface{}) bool {
	for _, el := range val {
		if _, ok := el.(string); !ok {
			return false
		}
	}
	return len(val) > 0
}

// asStringMap handles both the map shapes produced by JSON and YAML decoders.
func asStringMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// scalarLiteral renders a scalar as a canonical JSON literal. Integral
// floats are printed without a fractional part so 1 and 1.0 compare equal
// across the JSON and YAML decode paths.
func scalarLiteral(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(s)
	case string:
		return quote(s)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case uint64:
		return strconv.FormatUint(s, 10)
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'g', -1, 64)
	default:
		// Unreachable for well-formed decoder output; fall back to JSON.
		raw, err := json.Marshal(s)
		if err != nil {
			return quote(fmt.Sprintf("%v", s))
		}
		return string(raw)
	}
}

func quote(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw)
}
