package installer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// ledgerDirName is the state directory under the target root.
	ledgerDirName = ".component-lock"

	// ledgerFileName is the append-only install record, one JSON object
	// per line.
	ledgerFileName = "ledger.jsonl"
)

// FileRecord is one installed file with its content checksum.
type FileRecord struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
}

// Record is one ledger entry: a component whose files were fully and
// durably written. The ledger append is the component's commit point.
type Record struct {
	Name              string       `json:"name"`
	Version           string       `json:"version"`
	Files             []FileRecord `json:"files"`
	InstalledAt       time.Time    `json:"installedAt"`
	RequestedDirectly bool         `json:"requestedDirectly"`
}

// Ledger is the durable record of what is installed under a target root.
// It is append-only: entries are only ever added, never rewritten, and a
// single writer lock serializes appends across installer workers.
type Ledger struct {
	path string

	mu      sync.Mutex
	entries []Record
	index   map[string]map[string]string // name@version -> dest path -> checksum
}

// OpenLedger reads the ledger under targetRoot, creating the state
// directory if needed. A missing ledger file yields an empty ledger.
func OpenLedger(targetRoot string) (*Ledger, error) {
	dir := filepath.Join(targetRoot, ledgerDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	l := &Ledger{
		path:  filepath.Join(dir, ledgerFileName),
		index: make(map[string]map[string]string),
	}

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("corrupt ledger %s line %d: %w", l.path, line, err)
		}
		l.remember(rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	return l, nil
}

// Append durably writes one record as a JSON line and then registers it
// in memory. The fsync before returning makes the append the component's
// commit point.
func (l *Ledger) Append(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding ledger record: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening ledger for append: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending ledger record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing ledger: %w", err)
	}

	l.remember(rec)
	return nil
}

// remember indexes a record. Callers hold l.mu or have exclusive access.
func (l *Ledger) remember(rec Record) {
	l.entries = append(l.entries, rec)
	key := rec.Name + "@" + rec.Version
	if l.index[key] == nil {
		l.index[key] = make(map[string]string, len(rec.Files))
	}
	for _, f := range rec.Files {
		l.index[key][f.Path] = f.Checksum
	}
}

// Entries returns a copy of all records in append order.
func (l *Ledger) Entries() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.entries))
	copy(out, l.entries)
	return out
}

// HasComponent reports whether a record exists for name@version.
func (l *Ledger) HasComponent(name, version string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.index[name+"@"+version]
	return ok
}

// Checksum returns the recorded checksum of destPath for name@version.
func (l *Ledger) Checksum(name, version, destPath string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	files, ok := l.index[name+"@"+version]
	if !ok {
		return "", false
	}
	sum, ok := files[destPath]
	return sum, ok
}
