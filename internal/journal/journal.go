// Package journal is the append-only JSONL operations journal with SHA-256
// hash chaining. Every state-changing engine operation lands here before it
// is acknowledged; each entry's prev_hash is the hash of the previous JSON
// line, forming a tamper-evident chain.
package journal

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ppiankov/driftwatch/internal/model"
)

// GenesisHash is the prev_hash for the first entry in a new journal.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Op names a journaled operation.
type Op string

const (
	OpSubmit  Op = "submit"
	OpPatch   Op = "patch"
	OpArchive Op = "archive"
	OpDrift   Op = "drift"
	OpResolve Op = "resolve"
	OpScore   Op = "score"
	OpReload  Op = "reload"
)

// Entry is one line in the journal. All fields are structs or scalars to
// guarantee deterministic json.Marshal field order for reproducible hashing.
type Entry struct {
	Timestamp string `json:"ts"`
	Op        Op     `json:"op"`
	RefID     string `json:"ref_id"`
	Detail    string `json:"detail,omitempty"`
	Hash      string `json:"hash,omitempty"` // content hash of the referenced record
	PrevHash  string `json:"prev_hash"`
}

// Log is an open journal file positioned at the chain tail.
type Log struct {
	path     string
	file     *os.File
	prevHash string
	mu       sync.Mutex
}

// Open opens (or creates) a journal for appending. An existing file is read
// to its last line to recover the chain tail.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("journal: create directory: %w", err)
	}

	prevHash := GenesisHash
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("journal: read existing: %w", err)
		}
		scanner := bufio.NewScanner(f)
		var lastLine []byte
		for scanner.Scan() {
			lastLine = append(lastLine[:0], scanner.Bytes()...)
		}
		f.Close()
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("journal: scan existing: %w", err)
		}
		if len(lastLine) > 0 {
			prevHash = HashLine(lastLine)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("journal: open file: %w", err)
	}
	return &Log{path: path, file: file, prevHash: prevHash}, nil
}

// Record appends one entry with hash chaining and syncs to disk. PrevHash is
// always overwritten; Timestamp is filled when empty.
func (l *Log) Record(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(model.TimestampFormat)
	}
	entry.PrevHash = l.prevHash

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("journal: marshal entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("journal: write entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("journal: sync: %w", err)
	}
	l.prevHash = HashLine(line)
	return nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
