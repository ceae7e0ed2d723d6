package sandbox

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Cleaner removes released workspaces in the background so results are
// never held back by deletion. Failures are logged, never returned.
type Cleaner struct {
	ch      chan string
	wg      sync.WaitGroup
	done    chan struct{}
	mu      sync.Mutex // Guards stopped against Enqueue
	stopped bool
	remove  func(string) error
	onError func(path string, err error)
}

func NewCleaner(bufferSize int) *Cleaner {
	if bufferSize < 1 {
		bufferSize = 1024
	}
	return &Cleaner{
		ch:     make(chan string, bufferSize),
		done:   make(chan struct{}),
		remove: os.RemoveAll,
	}
}

// OnError registers a hook called for every failed removal.
func (c *Cleaner) OnError(fn func(path string, err error)) {
	c.onError = fn
}

func (c *Cleaner) Start() {
	c.wg.Add(1)
	go c.processLoop()
}

// Enqueue schedules path for removal without blocking. When the queue is
// full the removal runs on its own goroutine instead. After Flush the
// removal runs inline.
func (c *Cleaner) Enqueue(path string) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.removeLogged(path)
		return
	}
	defer c.mu.Unlock()

	select {
	case c.ch <- path:
	default:
		log.Debug().Str("path", path).Msg("cleanup queue full, removing inline")
		go c.removeLogged(path)
	}
}

// Flush stops the loop after draining what is queued, waiting up to timeout.
func (c *Cleaner) Flush(timeout time.Duration) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.done)
	c.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("workspace cleaner flushed")
	case <-time.After(timeout):
		log.Warn().Msg("workspace cleaner flush timed out")
	}
}

func (c *Cleaner) processLoop() {
	defer c.wg.Done()

	for {
		select {
		case path := <-c.ch:
			c.removeLogged(path)
		case <-c.done:
			// Drain remaining entries
			for {
				select {
				case path := <-c.ch:
					c.removeLogged(path)
				default:
					return
				}
			}
		}
	}
}

func (c *Cleaner) removeLogged(path string) {
	if err := c.remove(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("workspace cleanup failed")
		if c.onError != nil {
			c.onError(path, err)
		}
		return
	}
	log.Debug().Str("path", path).Msg("workspace removed")
}

// CleanupOrphaned removes workspaces older than maxAge, left over from a
// previous process that died before its cleaner drained.
func (s *Scratch) CleanupOrphaned(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var cleaned int
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), workspacePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(s.root, e.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Error().Err(err).Str("path", path).Msg("failed to remove orphaned workspace")
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		log.Info().Int("count", cleaned).Msg("cleaned up orphaned workspaces")
	}
	return cleaned, nil
}
