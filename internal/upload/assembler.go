// Package upload receives files in out-of-order chunks, tracks completeness
// per session and assembles the final mezzanine file once every chunk has
// arrived.
package upload

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnknownSession is returned for operations on an id the assembler
	// has never seen or has already swept.
	ErrUnknownSession = errors.New("unknown upload session")
	// ErrInvalidIndex is returned when a chunk index falls outside the
	// session's declared range.
	ErrInvalidIndex = errors.New("chunk index out of range")
	// ErrIncomplete is returned by Assemble while chunks are still missing.
	ErrIncomplete = errors.New("upload is missing chunks")
)

// StaleTimeout is how long a session may sit without receiving a chunk
// before the sweeper reclaims it.
const StaleTimeout = 30 * time.Minute

// session tracks one in-flight chunked upload.
type session struct {
	filename    string
	totalChunks int
	received    []bool
	receivedN   int
	dir         string
	lastActive  time.Time
}

// Assembler stores chunks on disk under per-session temp directories.
// Sessions are keyed by the caller-supplied upload id.
type Assembler struct {
	baseDir string
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session

	// onEvict is called with the session id after the sweeper reclaims a
	// stale session, letting the owner drop its progress record too.
	onEvict func(id string)
}

// NewAssembler returns an assembler that keeps chunk data under baseDir.
func NewAssembler(baseDir string, logger *slog.Logger, onEvict func(id string)) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		baseDir:  baseDir,
		logger:   logger,
		sessions: make(map[string]*session),
		onEvict:  onEvict,
	}
}

// sessionDir holds the chunk files for one upload id.
func (a *Assembler) sessionDir(id string) string {
	return filepath.Join(a.baseDir, "chunked-"+id)
}

func chunkName(index int) string {
	return fmt.Sprintf("chunk_%06d", index)
}

// StoreChunk writes one chunk, creating the session on first contact. The
// chunk body is drained fully; rewrites of an already-received index are
// accepted and do not double count.
func (a *Assembler) StoreChunk(id, filename string, index, totalChunks int, body io.Reader) (received, total int, err error) {
	if totalChunks <= 0 {
		return 0, 0, fmt.Errorf("total chunks must be positive, got %d", totalChunks)
	}
	if index < 0 || index >= totalChunks {
		return 0, 0, fmt.Errorf("%w: %d of %d", ErrInvalidIndex, index, totalChunks)
	}

	a.mu.Lock()
	sess, ok := a.sessions[id]
	if !ok {
		dir := a.sessionDir(id)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			a.mu.Unlock()
			return 0, 0, err
		}
		sess = &session{
			filename:    filename,
			totalChunks: totalChunks,
			received:    make([]bool, totalChunks),
			dir:         dir,
		}
		a.sessions[id] = sess
	}
	if sess.totalChunks != totalChunks {
		a.mu.Unlock()
		return 0, 0, fmt.Errorf("total chunks changed mid-upload: %d then %d", sess.totalChunks, totalChunks)
	}
	sess.lastActive = time.Now()
	dir := sess.dir
	a.mu.Unlock()

	path := filepath.Join(dir, chunkName(index))
	file, err := os.Create(path)
	if err != nil {
		return 0, 0, err
	}
	if _, err := io.Copy(file, body); err != nil {
		file.Close()
		os.Remove(path)
		return 0, 0, err
	}
	if err := file.Close(); err != nil {
		return 0, 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	sess, ok = a.sessions[id]
	if !ok {
		return 0, 0, ErrUnknownSession
	}
	if !sess.received[index] {
		sess.received[index] = true
		sess.receivedN++
	}
	return sess.receivedN, sess.totalChunks, nil
}

// Filename returns the original filename declared when the session began.
func (a *Assembler) Filename(id string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sess, ok := a.sessions[id]
	if !ok {
		return "", false
	}
	return sess.filename, true
}

// Assemble concatenates the chunks in index order into a single file inside
// the session directory and retires the session's chunk bookkeeping. The
// caller owns the returned path and removes the directory when done.
func (a *Assembler) Assemble(id string) (string, error) {
	a.mu.Lock()
	sess, ok := a.sessions[id]
	if !ok {
		a.mu.Unlock()
		return "", ErrUnknownSession
	}
	if sess.receivedN != sess.totalChunks {
		missing := sess.totalChunks - sess.receivedN
		a.mu.Unlock()
		return "", fmt.Errorf("%w: %d missing", ErrIncomplete, missing)
	}
	delete(a.sessions, id)
	a.mu.Unlock()

	name := filepath.Base(sess.filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "upload.bin"
	}
	outputPath := filepath.Join(sess.dir, "assembled_"+name)
	output, err := os.Create(outputPath)
	if err != nil {
		return "", err
	}
	defer output.Close()

	for index := 0; index < sess.totalChunks; index++ {
		chunkPath := filepath.Join(sess.dir, chunkName(index))
		chunk, err := os.Open(chunkPath)
		if err != nil {
			return "", fmt.Errorf("open chunk %d: %w", index, err)
		}
		_, err = io.Copy(output, chunk)
		chunk.Close()
		if err != nil {
			return "", fmt.Errorf("append chunk %d: %w", index, err)
		}
		os.Remove(chunkPath)
	}
	if err := output.Sync(); err != nil {
		return "", err
	}
	return outputPath, nil
}

// Discard drops a session and its on-disk chunks.
func (a *Assembler) Discard(id string) {
	a.mu.Lock()
	sess, ok := a.sessions[id]
	delete(a.sessions, id)
	a.mu.Unlock()
	if ok {
		os.RemoveAll(sess.dir)
	}
}

// SweepStale reclaims sessions that have not received a chunk within
// StaleTimeout.
func (a *Assembler) SweepStale() {
	cutoff := time.Now().Add(-StaleTimeout)

	a.mu.Lock()
	var evicted []string
	var dirs []string
	for id, sess := range a.sessions {
		if sess.lastActive.Before(cutoff) {
			delete(a.sessions, id)
			evicted = append(evicted, id)
			dirs = append(dirs, sess.dir)
		}
	}
	a.mu.Unlock()

	for i, id := range evicted {
		os.RemoveAll(dirs[i])
		a.logger.Info("reclaimed stale upload session", "uploadId", id)
		if a.onEvict != nil {
			a.onEvict(id)
		}
	}
}

// CleanupOrphans removes chunk directories that no live session owns,
// regardless of age. Intended for the operator cleanup endpoint after a
// crash leaves directories behind. It returns the removed directory names.
func (a *Assembler) CleanupOrphans() []string {
	a.mu.Lock()
	live := make(map[string]struct{}, len(a.sessions))
	for _, sess := range a.sessions {
		live[filepath.Base(sess.dir)] = struct{}{}
	}
	a.mu.Unlock()

	entries, err := os.ReadDir(a.baseDir)
	if err != nil {
		return nil
	}
	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "chunked-") {
			continue
		}
		if _, ok := live[entry.Name()]; ok {
			continue
		}
		if err := os.RemoveAll(filepath.Join(a.baseDir, entry.Name())); err != nil {
			a.logger.Warn("failed to remove orphaned upload directory", "dir", entry.Name(), "error", err)
			continue
		}
		removed = append(removed, entry.Name())
		a.logger.Info("removed orphaned upload directory", "dir", entry.Name())
	}
	return removed
}

// Run sweeps stale sessions at the given interval until ctx is done.
func (a *Assembler) Run(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			a.SweepStale()
		}
	}
}
