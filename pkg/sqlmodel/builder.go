package sqlmodel

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/leapstack-labs/sqlmodels/pkg/dialect"
)

// IdentifierFunc derives a node's CTE name from its name and content hash.
// The result is used unquoted by {{id}}, so it should be a valid bare
// identifier.
type IdentifierFunc func(name, hash string) string

// MaxIdentifierLength is the longest identifier the built-in IdentifierFuncs
// produce. Postgres silently truncates longer names to 63 bytes.
const MaxIdentifierLength = 63

// HashIdentifiers names nodes name___<first 16 hex digits of the hash>.
// The same graph always compiles to the same SQL.
func HashIdentifiers(name, hash string) string {
	return withSuffix(name, hash[:16])
}

// UUIDIdentifiers returns an IdentifierFunc that names nodes with a random
// suffix instead of the content hash.
func UUIDIdentifiers() IdentifierFunc {
	return func(name, _ string) string {
		return withSuffix(name, strings.ReplaceAll(uuid.NewString(), "-", ""))
	}
}

// withSuffix joins name and suffix, shortening name so the suffix is never
// cut off. Node names are ASCII, so byte slicing is safe.
func withSuffix(name, suffix string) string {
	suffix = "___" + suffix
	if keep := MaxIdentifierLength - len(suffix); len(name) > keep {
		name = name[:keep]
	}
	return name + suffix
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the logger used for debug events.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithIdentifierFunc replaces HashIdentifiers.
func WithIdentifierFunc(f IdentifierFunc) BuilderOption {
	return func(b *Builder) {
		if f != nil {
			b.identify = f
		}
	}
}

// Builder is an append-only arena of nodes with a content-hash index.
// It is safe for concurrent use; a single mutex serializes publication.
type Builder struct {
	dialect  dialect.Dialect
	logger   *slog.Logger
	identify IdentifierFunc

	mu     sync.Mutex
	nodes  []*Node
	byHash map[string]NodeID
}

// NewBuilder creates an empty builder for d.
func NewBuilder(d dialect.Dialect, opts ...BuilderOption) (*Builder, error) {
	if !d.Valid() {
		return nil, &dialect.UnsupportedDialectError{Name: d.String()}
	}
	b := &Builder{
		dialect:  d,
		logger:   slog.New(slog.DiscardHandler),
		identify: HashIdentifiers,
		byHash:   make(map[string]NodeID),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Dialect returns the dialect parameters are quoted for.
func (b *Builder) Dialect() dialect.Dialect { return b.dialect }

// Len returns the number of distinct nodes in the arena.
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.nodes)
}

// Node returns the node with the given id.
func (b *Builder) Node(id NodeID) (*Node, bool) {
	nodes := b.snapshot()
	if id < 0 || int(id) >= len(nodes) {
		return nil, false
	}
	return nodes[id], true
}

// snapshot returns the arena as of now. Published nodes never change, so
// the slice can be read without holding the lock.
func (b *Builder) snapshot() []*Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nodes
}

// AddNode binds spec's parameters, hashes the result and returns the id of
// the canonical node with that hash, adding one if none exists.
func (b *Builder) AddNode(spec NodeSpec) (NodeID, error) {
	n, err := b.finalize(spec)
	if err != nil {
		return NoNode, err
	}

	b.mu.Lock()
	if id, ok := b.byHash[n.hash]; ok {
		b.mu.Unlock()
		b.logger.Debug("reusing node", "name", spec.Name, "id", id, "hash", n.hash[:16])
		return id, nil
	}
	n.id = NodeID(len(b.nodes))
	b.nodes = append(b.nodes, n)
	b.byHash[n.hash] = n.id
	b.mu.Unlock()

	b.logger.Debug("added node", "name", n.name, "id", n.id, "identifier", n.identifier, "refs", len(n.refNames))
	return n.id, nil
}

// MustAddNode is like AddNode but panics on error.
// Use only in tests or with templates known to be valid.
func (b *Builder) MustAddNode(spec NodeSpec) NodeID {
	id, err := b.AddNode(spec)
	if err != nil {
		panic(err)
	}
	return id
}

// finalize validates spec and computes everything a node needs before it
// can be published.
func (b *Builder) finalize(spec NodeSpec) (*Node, error) {
	if !isFieldName(spec.Name) {
		return nil, malformed(spec.Name, "invalid node name %q", spec.Name)
	}

	params, err := ExtractFields(spec.Template, 1)
	if err != nil {
		return nil, inNode(err, spec.Name)
	}
	refs, err := ExtractFields(spec.Template, 2)
	if err != nil {
		return nil, inNode(err, spec.Name)
	}
	rest, err := peel(spec.Template, 2)
	if err != nil {
		return nil, inNode(err, spec.Name)
	}
	if strings.ContainsAny(rest, "{}") {
		return nil, malformed(spec.Name, "placeholders deeper than references are reserved; pass literal braces through a parameter")
	}

	if err := checkBindings(spec.Name, "parameter", params, spec.Params); err != nil {
		return nil, err
	}
	if _, ok := spec.Refs[SelfReference]; ok {
		return nil, malformed(spec.Name, "reference name %q is reserved", SelfReference)
	}
	userRefs := make([]string, 0, len(refs))
	for _, r := range refs {
		if r != SelfReference {
			userRefs = append(userRefs, r)
		}
	}
	if err := checkBindings(spec.Name, "reference", userRefs, spec.Refs); err != nil {
		return nil, err
	}

	bindings := make(map[string]string, len(spec.Params))
	for name, p := range spec.Params {
		v, err := p.render(b.dialect)
		if err != nil {
			return nil, inNode(err, spec.Name)
		}
		bindings[name] = v
	}
	sql, err := Substitute(spec.Template, bindings)
	if err != nil {
		return nil, inNode(err, spec.Name)
	}

	nodes := b.snapshot()
	children := make(map[string]*Node, len(userRefs))
	refMap := make(map[string]NodeID, len(userRefs))
	for _, r := range userRefs {
		id := spec.Refs[r]
		if id < 0 || int(id) >= len(nodes) {
			return nil, &DanglingReferenceError{Node: spec.Name, Reference: r, Target: id}
		}
		children[r] = nodes[id]
		refMap[r] = id
	}

	hash := nodeHash(sql, userRefs, func(r string) string { return children[r].hash })
	return &Node{
		id:         NoNode,
		name:       spec.Name,
		template:   spec.Template,
		sql:        sql,
		refs:       refMap,
		refNames:   userRefs,
		hash:       hash,
		identifier: b.identify(spec.Name, hash),
	}, nil
}

// checkBindings reports fields without a binding and bindings without a
// field.
func checkBindings[V any](node, kind string, fields []string, bound map[string]V) error {
	want := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		want[f] = struct{}{}
		if _, ok := bound[f]; !ok {
			return malformed(node, "%s {%s} has no binding", kind, f)
		}
	}
	for _, name := range sortedKeys(bound) {
		if _, ok := want[name]; !ok {
			return malformed(node, "%s %q is bound but not used by the template", kind, name)
		}
	}
	return nil
}

// inNode attaches a node name to template errors raised by the resolver.
func inNode(err error, node string) error {
	var mt *MalformedTemplateError
	if errors.As(err, &mt) && mt.Node == "" {
		cp := *mt
		cp.Node = node
		return &cp
	}
	return err
}
