package runtime

import (
	"fmt"
	"sort"
	"strings"
)

// RunOptions carries the launch-time limits a toolchain turns into process flags.
type RunOptions struct {
	MemoryMB int64
	StackMB  int64
}

// Toolchain defines how to build and launch one compiled language.
type Toolchain interface {
	// Name returns the toolchain identifier (e.g., "java").
	Name() string

	// FileExtension returns the source file extension (e.g., ".java").
	FileExtension() string

	// CompileCommand returns the compiler argv for the source at srcPath,
	// writing artifacts into outDir.
	CompileCommand(srcPath, outDir string) []string

	// RunCommand returns the argv that launches the compiled unit from outDir.
	// The memory ceiling is applied here as a launch flag.
	RunCommand(outDir, unit string, opts RunOptions) []string

	// Binaries lists the executables that must be on PATH for this toolchain.
	Binaries() []string
}

// Registry maps toolchain names to their implementations.
type Registry struct {
	toolchains map[string]Toolchain
}

// NewRegistry creates a registry with all supported toolchains.
func NewRegistry() *Registry {
	r := &Registry{
		toolchains: make(map[string]Toolchain),
	}
	r.Register(NewJavaToolchain("", ""))
	return r
}

// Register adds a toolchain to the registry, replacing any with the same name.
func (r *Registry) Register(tc Toolchain) {
	r.toolchains[tc.Name()] = tc
}

// Get returns the toolchain with the given name.
func (r *Registry) Get(name string) (Toolchain, error) {
	tc, ok := r.toolchains[name]
	if !ok {
		return nil, fmt.Errorf("unsupported toolchain: %q (supported: %s)", name, strings.Join(r.Names(), ", "))
	}
	return tc, nil
}

// Names returns all registered toolchain names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.toolchains))
	for name := range r.toolchains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
