package action

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"actionrunner/pkg/logx"
)

// DefinitionExt is the file extension of action definition files.
const DefinitionExt = ".hcl"

// TypePrefix is the namespace of derived handler type names.
const TypePrefix = "Actions"

type Options struct {
	// DefaultRoot backs paths without a registered alias. Nil means every such
	// path is not found.
	DefaultRoot fs.FS
	// DefaultRootName is used in locations and error messages.
	DefaultRootName string
	Debug           bool
	Logger          logx.Logger
}

// Registry resolves logical paths to cached Descriptors.
type Registry struct {
	log      logx.Logger
	root     fs.FS
	rootName string
	hooks    *hooks

	fmu       sync.RWMutex
	factories map[string]Factory

	mu      sync.Mutex
	aliases map[string]string
	cache   map[string]*Descriptor
}

func New(opts Options) *Registry {
	r := &Registry{
		log:       opts.Logger.With(logx.String("comp", "registry")),
		root:      opts.DefaultRoot,
		rootName:  strings.TrimRight(opts.DefaultRootName, "/"),
		hooks:     &hooks{},
		factories: map[string]Factory{},
		aliases:   map[string]string{},
		cache:     map[string]*Descriptor{},
	}
	if r.rootName == "" {
		r.rootName = "."
	}
	r.hooks.debug.Store(opts.Debug)
	return r
}

// Register adds a handler type to the factory table.
// It panics on an empty name, a nil factory or a duplicate name.
func (r *Registry) Register(typeName string, f Factory) {
	typeName = strings.TrimSpace(typeName)
	if typeName == "" || f == nil {
		panic("action: Register with empty type name or nil factory")
	}
	r.fmu.Lock()
	defer r.fmu.Unlock()
	if _, dup := r.factories[typeName]; dup {
		panic("action: duplicate handler type " + typeName)
	}
	r.factories[typeName] = f
}

func (r *Registry) factory(typeName string) (Factory, bool) {
	r.fmu.RLock()
	defer r.fmu.RUnlock()
	f, ok := r.factories[typeName]
	return f, ok
}

// Types returns the registered handler type names, sorted.
func (r *Registry) Types() []string {
	r.fmu.RLock()
	defer r.fmu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RegisterPath maps alias to a filesystem root. Empty values are ignored.
func (r *Registry) RegisterPath(alias, root string) {
	alias = strings.TrimSpace(alias)
	root = strings.TrimSpace(root)
	if alias == "" || root == "" {
		return
	}
	r.mu.Lock()
	r.aliases[alias] = root
	r.mu.Unlock()
}

func (r *Registry) UnregisterPath(alias string) {
	r.mu.Lock()
	delete(r.aliases, strings.TrimSpace(alias))
	r.mu.Unlock()
}

// Aliases returns a copy of the alias table.
func (r *Registry) Aliases() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.aliases))
	for k, v := range r.aliases {
		out[k] = v
	}
	return out
}

// Evict drops the cached descriptor for an identity key.
func (r *Registry) Evict(key string) {
	r.mu.Lock()
	delete(r.cache, collapseSlashes(key))
	r.mu.Unlock()
}

func (r *Registry) SetDebug(on bool) { r.hooks.debug.Store(on) }

func (r *Registry) Debug() bool { return r.hooks.debugEnabled() }

// Attach adds an observer. Observers only run in debug mode.
func (r *Registry) Attach(fn func(Record)) (detach func()) {
	if fn == nil {
		return func() {}
	}
	return r.hooks.attach(fn)
}

// Exists reports whether path resolves. Only NotFound counts as absent.
func (r *Registry) Exists(path string) bool {
	_, err := r.Resolve(path)
	return err == nil || !errors.Is(err, ErrNotFound)
}

// Lookup is Resolve without the error.
func (r *Registry) Lookup(path string) *Descriptor {
	d, err := r.Resolve(path)
	if err != nil {
		return nil
	}
	return d
}

// Invoke resolves path and runs it once in a fresh execution.
func (r *Registry) Invoke(ctx context.Context, path string, args ...any) (*Execution, error) {
	d, err := r.Resolve(path)
	if err != nil {
		return nil, err
	}
	return d.Invoke(ctx, args...)
}

// Resolve returns the descriptor for a logical path, loading it on first use.
func (r *Registry) Resolve(path string) (*Descriptor, error) {
	loc := r.locate(path)

	r.mu.Lock()
	if d, ok := r.cache[loc.key]; ok {
		r.mu.Unlock()
		return d, nil
	}
	r.mu.Unlock()

	d, err := r.load(loc)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.cache[loc.key]; ok {
		return cached, nil
	}
	r.cache[loc.key] = d
	r.log.Debug("action loaded",
		logx.String("key", d.Key),
		logx.String("type", d.TypeName),
		logx.String("location", d.Location),
	)
	return d, nil
}

type location struct {
	fsys fs.FS
	file string // fs-relative definition file
	full string // host-visible definition location
	key  string
}

func (r *Registry) locate(path string) location {
	alias, rest, hasRest := strings.Cut(path, "/")

	r.mu.Lock()
	root, ok := r.aliases[alias]
	r.mu.Unlock()

	if ok && isDir(root) {
		if !hasRest {
			rest = "/" + path
		}
		key := collapseSlashes(root + "/" + rest)
		file := strings.TrimPrefix(collapseSlashes(rest), "/") + DefinitionExt
		return location{
			fsys: os.DirFS(root),
			file: file,
			full: key + DefinitionExt,
			key:  key,
		}
	}

	key := collapseSlashes(path)
	file := strings.TrimPrefix(key, "/") + DefinitionExt
	return location{
		fsys: r.root,
		file: file,
		full: collapseSlashes(r.rootName + "/" + file),
		key:  key,
	}
}

func (r *Registry) load(loc location) (*Descriptor, error) {
	if loc.fsys == nil || !fs.ValidPath(loc.file) {
		return nil, &NotFoundError{Path: loc.full}
	}
	src, err := fs.ReadFile(loc.fsys, loc.file)
	if err != nil {
		return nil, &NotFoundError{Path: loc.full}
	}

	typeName := QualifiedName(loc.key)
	def, err := decodeDefinition(loc.file, src)
	if err != nil {
		return nil, &NotFoundError{TypeName: typeName, Err: err}
	}
	if def.Handler != "" {
		typeName = def.Handler
	}

	f, ok := r.factory(typeName)
	if !ok {
		return nil, &NotFoundError{TypeName: typeName}
	}
	h := f()
	if h == nil {
		return nil, &NotFoundError{TypeName: typeName}
	}

	return &Descriptor{
		Key:         loc.key,
		TypeName:    typeName,
		Location:    loc.full,
		Description: def.Description,
		Params:      def.Params,
		handler:     h,
		hooks:       r.hooks,
	}, nil
}

// QualifiedName derives the handler type name of an identity key.
func QualifiedName(key string) string {
	parts := []string{TypePrefix}
	for _, seg := range strings.Split(key, "/") {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	return strings.Join(parts, ".")
}

func collapseSlashes(s string) string {
	for strings.Contains(s, "//") {
		s = strings.ReplaceAll(s, "//", "/")
	}
	return s
}

func isDir(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.IsDir()
}
