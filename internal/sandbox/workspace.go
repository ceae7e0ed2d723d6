package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const workspacePrefix = "ws-"

// Scratch is the process-wide area for transient build artifacts. Every
// caller acquires its own directory keyed by a unique token; no locks are
// taken, directory uniqueness is the only coordination.
type Scratch struct {
	root    string
	cleaner *Cleaner
}

// NewScratch creates root if needed. A nil cleaner makes Release remove
// synchronously.
func NewScratch(root string, cleaner *Cleaner) (*Scratch, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "prayukti-judge")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("creating scratch root %s: %w", root, err)
	}
	return &Scratch{root: root, cleaner: cleaner}, nil
}

func (s *Scratch) Root() string {
	return s.root
}

// Acquire creates the workspace for token. It fails if the token is already
// in use rather than sharing a directory.
func (s *Scratch) Acquire(token string) (*Workspace, error) {
	if token == "" || strings.ContainsAny(token, `/\.`) {
		return nil, fmt.Errorf("invalid workspace token %q", token)
	}
	dir := filepath.Join(s.root, workspacePrefix+token)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	return &Workspace{dir: dir, scratch: s}, nil
}

// Workspace is one acquired scratch directory.
type Workspace struct {
	dir     string
	scratch *Scratch
	once    sync.Once
}

func (w *Workspace) Dir() string {
	return w.dir
}

// WriteSource writes the compilation unit and returns its path. It creates
// or overwrites exactly one file.
func (w *Workspace) WriteSource(fileName, code string) (string, error) {
	if fileName != filepath.Base(fileName) {
		return "", fmt.Errorf("invalid source file name %q", fileName)
	}
	path := filepath.Join(w.dir, fileName)
	if err := os.WriteFile(path, []byte(code), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// Release hands the directory to the cleaner. Safe to call more than once.
func (w *Workspace) Release() {
	w.once.Do(func() {
		if w.scratch.cleaner == nil {
			_ = os.RemoveAll(w.dir)
			return
		}
		w.scratch.cleaner.Enqueue(w.dir)
	})
}
