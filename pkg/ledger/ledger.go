// Package ledger records completed training epochs in an append-only text file
// and resolves the epoch a restarted run should continue after.
//
// The ledger is a hint: an epoch only counts as resumable when its checkpoint
// artifact still exists in the backing store.
package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FileName is the ledger file name inside the checkpoint directory.
const FileName = "done"

// NoCheckpoint is the resume point reported when nothing can be resumed.
const NoCheckpoint = -1

// File permissions for the ledger and its directory.
const (
	dirPerm  = 0o750
	filePerm = 0o644
)

// Sentinel errors for ledger operations.
var (
	ErrInvalidEpoch  = errors.New("epoch must be non-negative")
	ErrLedgerMissing = errors.New("ledger file not found")
)

// ArtifactChecker reports whether the checkpoint artifact for an epoch exists.
type ArtifactChecker interface {
	Exists(epoch int) bool
}

// DirArtifacts checks for artifacts named by epoch index directly inside a directory.
type DirArtifacts string

// Exists implements ArtifactChecker. Only regular files count.
func (d DirArtifacts) Exists(epoch int) bool {
	info, err := os.Stat(filepath.Join(string(d), strconv.Itoa(epoch)))
	if err != nil {
		return false
	}

	return info.Mode().IsRegular()
}

// Entry is one parsed ledger record.
type Entry struct {
	// Line is the 1-based line number in the ledger file.
	Line  int `json:"line"  yaml:"line"`
	Epoch int `json:"epoch" yaml:"epoch"`
}

// Entries is the parsed content of a ledger file in append order.
type Entries struct {
	Records []Entry
	// Skipped holds line numbers of complete lines that are not epoch indices.
	Skipped []int
	// Torn is a trailing fragment without a newline, left by an interrupted append.
	Torn string
}

// Ledger is the append-only record of completed, checkpointed epochs.
type Ledger struct {
	dir string
}

// New creates a ledger stored as [FileName] inside dir.
func New(dir string) *Ledger {
	return &Ledger{dir: dir}
}

// Dir returns the checkpoint directory holding the ledger.
func (l *Ledger) Dir() string {
	return l.dir
}

// Path returns the ledger file path.
func (l *Ledger) Path() string {
	return filepath.Join(l.dir, FileName)
}

// Exists reports whether the ledger file has been created.
func (l *Ledger) Exists() bool {
	_, err := os.Stat(l.Path())

	return err == nil
}

// RecordCompleted durably appends epoch as a single newline-terminated record.
// Prior records are never rewritten. A torn tail left by a crashed append is
// terminated first so the new record starts on its own line.
func (l *Ledger) RecordCompleted(epoch int) error {
	if epoch < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidEpoch, epoch)
	}

	err := os.MkdirAll(l.dir, dirPerm)
	if err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	created := !l.Exists()

	torn, err := l.hasTornTail()
	if err != nil {
		return err
	}

	record := strconv.Itoa(epoch) + "\n"
	if torn {
		record = "\n" + record
	}

	file, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	_, writeErr := file.WriteString(record)
	if writeErr != nil {
		file.Close()

		return fmt.Errorf("append ledger: %w", writeErr)
	}

	syncErr := file.Sync()
	if syncErr != nil {
		file.Close()

		return fmt.Errorf("sync ledger: %w", syncErr)
	}

	closeErr := file.Close()
	if closeErr != nil {
		return fmt.Errorf("close ledger: %w", closeErr)
	}

	if created {
		return syncDir(l.dir)
	}

	return nil
}

// Entries reads and parses the whole ledger.
// It returns [ErrLedgerMissing] when the file does not exist.
func (l *Ledger) Entries() (Entries, error) {
	data, err := os.ReadFile(l.Path())
	if errors.Is(err, os.ErrNotExist) {
		return Entries{}, fmt.Errorf("%w: %s", ErrLedgerMissing, l.Path())
	}

	if err != nil {
		return Entries{}, fmt.Errorf("read ledger: %w", err)
	}

	return Parse(data), nil
}

// Parse splits raw ledger content into records.
func Parse(data []byte) Entries {
	var entries Entries

	lines := bytes.Split(data, []byte{'\n'})

	// The element after the final newline is either empty or a torn record.
	last := lines[len(lines)-1]
	lines = lines[:len(lines)-1]
	entries.Torn = string(last)

	for idx, raw := range lines {
		text := strings.TrimSpace(string(raw))
		if text == "" {
			continue
		}

		epoch, err := strconv.Atoi(text)
		if err != nil || epoch < 0 {
			entries.Skipped = append(entries.Skipped, idx+1)

			continue
		}

		entries.Records = append(entries.Records, Entry{Line: idx + 1, Epoch: epoch})
	}

	return entries
}

// Resolve scans the ledger from the most recent record to the oldest and returns
// the first epoch whose artifact exists. It returns [NoCheckpoint] together with
// [ErrLedgerMissing] when there is no ledger, and [NoCheckpoint] with a nil error
// when no record has a surviving artifact.
func (l *Ledger) Resolve(artifacts ArtifactChecker) (int, error) {
	entries, err := l.Entries()
	if err != nil {
		return NoCheckpoint, err
	}

	return entries.ResumePoint(artifacts), nil
}

// FindResumePoint is [Ledger.Resolve] with every failure mapped to [NoCheckpoint].
func (l *Ledger) FindResumePoint(artifacts ArtifactChecker) int {
	epoch, err := l.Resolve(artifacts)
	if err != nil {
		return NoCheckpoint
	}

	return epoch
}

// ResumePoint returns the most recently appended epoch whose artifact exists.
func (e Entries) ResumePoint(artifacts ArtifactChecker) int {
	for idx := len(e.Records) - 1; idx >= 0; idx-- {
		epoch := e.Records[idx].Epoch
		if artifacts.Exists(epoch) {
			return epoch
		}
	}

	return NoCheckpoint
}

// EntryStatus pairs a record with the state of its artifact.
type EntryStatus struct {
	Entry

	ArtifactPresent bool `json:"artifact_present" yaml:"artifact_present"`
	// Resume marks the record chosen as the resume point.
	Resume bool `json:"resume" yaml:"resume"`
}

// Status reports every record with its artifact presence, newest last.
func (e Entries) Status(artifacts ArtifactChecker) []EntryStatus {
	statuses := make([]EntryStatus, len(e.Records))
	resumeIdx := -1

	for idx, rec := range e.Records {
		statuses[idx] = EntryStatus{Entry: rec, ArtifactPresent: artifacts.Exists(rec.Epoch)}
		if statuses[idx].ArtifactPresent {
			resumeIdx = idx
		}
	}

	if resumeIdx >= 0 {
		statuses[resumeIdx].Resume = true
	}

	return statuses
}

// Epochs returns the distinct recorded epochs in first-seen order.
func (e Entries) Epochs() []int {
	seen := make(map[int]bool, len(e.Records))
	out := make([]int, 0, len(e.Records))

	for _, rec := range e.Records {
		if seen[rec.Epoch] {
			continue
		}

		seen[rec.Epoch] = true

		out = append(out, rec.Epoch)
	}

	return out
}

func (l *Ledger) hasTornTail() (bool, error) {
	file, err := os.Open(l.Path())
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("open ledger: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return false, fmt.Errorf("stat ledger: %w", err)
	}

	if info.Size() == 0 {
		return false, nil
	}

	last := make([]byte, 1)

	_, err = file.ReadAt(last, info.Size()-1)
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read ledger tail: %w", err)
	}

	return last[0] != '\n', nil
}

// syncDir flushes directory metadata so a newly created ledger survives a crash.
func syncDir(dir string) error {
	handle, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open ledger dir: %w", err)
	}
	defer handle.Close()

	// Some filesystems reject fsync on directories; the file itself is already synced.
	_ = handle.Sync()

	return nil
}
