package toolchain

// Recipe defines how a staged workspace is turned into an executable.
type Recipe interface {
	// Name returns the recipe identifier (e.g., "make", "cc").
	Name() string

	// Detect reports whether this recipe applies to a workspace holding
	// the given file names.
	Detect(files []string) bool

	// BuildCommand returns the command and args that build source into
	// binary, run from the workspace root.
	BuildCommand(source, binary string) []string
}

// Registry holds the recipes in detection order. The fallback recipe is
// used when no other recipe detects the workspace.
type Registry struct {
	recipes  map[string]Recipe
	order    []string
	fallback Recipe
}

// NewRegistry creates a registry with the Makefile recipe and a default
// single-file compiler recipe as fallback.
func NewRegistry(makeCommand, compiler string, cflags []string) *Registry {
	r := &Registry{
		recipes: make(map[string]Recipe),
	}
	r.Register(&MakeRecipe{Command: makeCommand})
	r.fallback = &CCRecipe{Compiler: compiler, Flags: cflags}
	r.recipes[r.fallback.Name()] = r.fallback
	return r
}

// Register adds a recipe to the registry. Recipes are tried in
// registration order.
func (r *Registry) Register(rc Recipe) {
	if _, ok := r.recipes[rc.Name()]; !ok {
		r.order = append(r.order, rc.Name())
	}
	r.recipes[rc.Name()] = rc
}

// Detect returns the first registered recipe that applies to files, or
// the fallback.
func (r *Registry) Detect(files []string) Recipe {
	for _, name := range r.order {
		if rc := r.recipes[name]; rc.Detect(files) {
			return rc
		}
	}
	return r.fallback
}
