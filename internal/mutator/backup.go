package mutator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	backupTimeLayout = "20060102T150405"
	backupMarker     = ".bak."
	backupFileMode   = 0o600
)

// BackupMetadata describes one backup file.
type BackupMetadata struct {
	OriginalPath string    `json:"original_path" yaml:"original_path"`
	BackupPath   string    `json:"backup_path" yaml:"backup_path"`
	Timestamp    time.Time `json:"timestamp" yaml:"timestamp"`
	ContentHash  string    `json:"content_hash,omitempty" yaml:"content_hash,omitempty"`
	Size         int64     `json:"size" yaml:"size"`
	Sequence     int64     `json:"sequence" yaml:"sequence"`
	ModTime      time.Time `json:"mod_time" yaml:"mod_time"`
}

// splitName splits path into its directory, stem and suffix (extension
// including the dot).
func splitName(path string) (dir, stem, suffix string) {
	dir = filepath.Dir(path)
	base := filepath.Base(path)
	suffix = filepath.Ext(base)
	stem = strings.TrimSuffix(base, suffix)
	return dir, stem, suffix
}

func backupName(stem, suffix string, ts time.Time, seq int64) string {
	return fmt.Sprintf("%s%s%s.%d%s", stem, backupMarker, ts.UTC().Format(backupTimeLayout), seq, suffix)
}

// parseBackupName reports whether name is a backup of stem+suffix and
// returns its timestamp and sequence.
func parseBackupName(name, stem, suffix string) (time.Time, int64, bool) {
	prefix := stem + backupMarker
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) || len(name) < len(prefix)+len(suffix) {
		return time.Time{}, 0, false
	}
	middle := name[len(prefix) : len(name)-len(suffix)]
	tsPart, seqPart, ok := strings.Cut(middle, ".")
	if !ok {
		return time.Time{}, 0, false
	}
	ts, err := time.Parse(backupTimeLayout, tsPart)
	if err != nil {
		return time.Time{}, 0, false
	}
	seq, err := strconv.ParseInt(seqPart, 10, 64)
	if err != nil || seq < 1 {
		return time.Time{}, 0, false
	}
	return ts.UTC(), seq, true
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// listBackups returns the backups of path on disk, newest first. Ordering is
// by modification time with the sequence breaking ties.
func listBackups(path string) ([]BackupMetadata, error) {
	dir, stem, suffix := splitName(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read backup directory: %w", err)
	}
	var backups []BackupMetadata
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ts, seq, ok := parseBackupName(e.Name(), stem, suffix)
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed concurrently.
			continue
		}
		backups = append(backups, BackupMetadata{
			OriginalPath: path,
			BackupPath:   filepath.Join(dir, e.Name()),
			Timestamp:    ts,
			Size:         info.Size(),
			Sequence:     seq,
			ModTime:      info.ModTime(),
		})
	}
	sort.Slice(backups, func(i, j int) bool {
		if !backups[i].ModTime.Equal(backups[j].ModTime) {
			return backups[i].ModTime.After(backups[j].ModTime)
		}
		return backups[i].Sequence > backups[j].Sequence
	})
	return backups, nil
}

// nextSequence returns the next backup sequence for path. The first call
// for a path resumes after the highest sequence found on disk.
func (m *Mutator) nextSequence(path string) (int64, error) {
	m.seqMu.Lock()
	defer m.seqMu.Unlock()

	last, ok := m.seqs[path]
	if !ok {
		existing, err := listBackups(path)
		if err != nil {
			return 0, err
		}
		for _, b := range existing {
			if b.Sequence > last {
				last = b.Sequence
			}
		}
	}
	last++
	m.seqs[path] = last
	return last, nil
}

// createBackup writes content to a new owner-only backup file beside path.
func (m *Mutator) createBackup(path string, content []byte) (*BackupMetadata, error) {
	seq, err := m.nextSequence(path)
	if err != nil {
		return nil, err
	}
	dir, stem, suffix := splitName(path)
	ts := m.now().UTC()
	backupPath := filepath.Join(dir, backupName(stem, suffix, ts, seq))

	f, err := os.OpenFile(backupPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, backupFileMode)
	if err != nil {
		return nil, fmt.Errorf("create backup: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(backupPath)
		return nil, fmt.Errorf("write backup: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(backupPath)
		return nil, fmt.Errorf("sync backup: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(backupPath)
		return nil, fmt.Errorf("close backup: %w", err)
	}
	// Enforce 0600 regardless of umask.
	if err := os.Chmod(backupPath, backupFileMode); err != nil {
		_ = os.Remove(backupPath)
		return nil, fmt.Errorf("chmod backup: %w", err)
	}

	meta := &BackupMetadata{
		OriginalPath: path,
		BackupPath:   backupPath,
		Timestamp:    ts.Truncate(time.Second),
		ContentHash:  hashContent(content),
		Size:         int64(len(content)),
		Sequence:     seq,
	}
	if info, err := os.Stat(backupPath); err == nil {
		meta.ModTime = info.ModTime()
	}
	m.logger.Debug("backup created",
		zap.String("path", path),
		zap.String("backup", backupPath),
		zap.Int64("sequence", seq),
		zap.String("sha256", meta.ContentHash))
	return meta, nil
}

// pruneBackups removes all but the newest MaxBackups backups of path.
func (m *Mutator) pruneBackups(path string) {
	backups, err := listBackups(path)
	if err != nil {
		m.logger.Warn("listing backups for pruning failed", zap.String("path", path), zap.Error(err))
		return
	}
	if len(backups) <= m.cfg.MaxBackups {
		return
	}
	for _, b := range backups[m.cfg.MaxBackups:] {
		if err := os.Remove(b.BackupPath); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("removing old backup failed", zap.String("backup", b.BackupPath), zap.Error(err))
			continue
		}
		BackupsPrunedTotal.Inc()
		m.logger.Debug("backup pruned", zap.String("backup", b.BackupPath), zap.Int64("sequence", b.Sequence))
	}
}

// writeAtomic replaces path with content through a temp file in the same
// directory and a rename.
func writeAtomic(path string, content []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
