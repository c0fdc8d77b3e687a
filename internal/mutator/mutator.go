package mutator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultMaxBackups is the number of backups retained per path.
	DefaultMaxBackups = 5

	// DefaultSmokeTestTimeout bounds a smoke test command.
	DefaultSmokeTestTimeout = 300 * time.Second

	// DefaultLintTimeout bounds an external lint command.
	DefaultLintTimeout = 60 * time.Second
)

// ErrSubstringNotFound is returned when a Change's Old text does not occur
// in the content it is applied to.
var ErrSubstringNotFound = errors.New("substring not found")

// Config configures a Mutator. Zero values take the package defaults.
type Config struct {
	// MaxBackups is the number of backups kept per path.
	MaxBackups int

	// SmokeTestTimeout bounds the optional smoke test command.
	SmokeTestTimeout time.Duration

	// SmokeTestDir is the working directory for smoke tests. Empty means
	// the directory of the mutated file.
	SmokeTestDir string
}

func (c *Config) applyDefaults() {
	if c.MaxBackups <= 0 {
		c.MaxBackups = DefaultMaxBackups
	}
	if c.SmokeTestTimeout <= 0 {
		c.SmokeTestTimeout = DefaultSmokeTestTimeout
	}
}

// Change replaces every occurrence of Old with New.
type Change struct {
	Old string `json:"old" yaml:"old"`
	New string `json:"new" yaml:"new"`
}

// Result reports the outcome of a mutation. Errors are carried in Message;
// the Mutator never returns them.
type Result struct {
	Success     bool              `json:"success"`
	Path        string            `json:"path"`
	Description string            `json:"description,omitempty"`
	Message     string            `json:"message"`
	Backup      *BackupMetadata   `json:"backup,omitempty"`
	Validation  ValidationOutcome `json:"validation"`
	RolledBack  bool              `json:"rolled_back"`
}

// Mutator applies transactional writes. It is safe for concurrent use.
type Mutator struct {
	cfg        Config
	locks      *LockMap
	validators Validators
	linters    []Linter
	runner     CommandRunner
	logger     *zap.Logger
	now        func() time.Time

	seqMu sync.Mutex
	seqs  map[string]int64
}

// Option configures a Mutator.
type Option func(*Mutator)

// WithLockMap shares a lock map between mutators.
func WithLockMap(lm *LockMap) Option {
	return func(m *Mutator) { m.locks = lm }
}

// WithValidators replaces the syntax validator registry.
func WithValidators(v Validators) Option {
	return func(m *Mutator) { m.validators = v }
}

// WithLinters replaces the linters.
func WithLinters(linters ...Linter) Option {
	return func(m *Mutator) { m.linters = linters }
}

// WithCommandRunner sets the runner used for smoke tests.
func WithCommandRunner(r CommandRunner) Option {
	return func(m *Mutator) { m.runner = r }
}

// WithClock sets the clock used for backup timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Mutator) { m.now = now }
}

// New creates a Mutator. A nil logger disables logging.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Mutator {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Mutator{
		cfg:        cfg,
		locks:      NewLockMap(0),
		validators: DefaultValidators(),
		runner:     ExecRunner{},
		logger:     logger,
		now:        time.Now,
		seqs:       make(map[string]int64),
	}
	m.linters = DefaultLinters(nil, "", 0, m.runner)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ApplyContent replaces the content of path with content.
func (m *Mutator) ApplyContent(ctx context.Context, path string, content []byte, description, smokeTestCmd string) Result {
	return m.mutate(ctx, path, description, smokeTestCmd, func([]byte) ([]byte, error) {
		return content, nil
	})
}

// ApplyFunc replaces the content of path with derive(current), where
// current is read while the path lock is held. An error from derive aborts
// the mutation before a backup is taken.
func (m *Mutator) ApplyFunc(ctx context.Context, path string, derive func(current []byte) ([]byte, error), description, smokeTestCmd string) Result {
	return m.mutate(ctx, path, description, smokeTestCmd, derive)
}

// ApplyChanges applies changes in order to the current content of path.
// Every Old must occur in the content produced by the preceding changes,
// otherwise nothing is written and no backup is taken.
func (m *Mutator) ApplyChanges(ctx context.Context, path string, changes []Change, description, smokeTestCmd string) Result {
	return m.mutate(ctx, path, description, smokeTestCmd, func(current []byte) ([]byte, error) {
		return ApplyChangesTo(current, changes)
	})
}

// ApplyChangesTo derives new content by sequential substring replacement.
func ApplyChangesTo(content []byte, changes []Change) ([]byte, error) {
	out := string(content)
	for i, c := range changes {
		if c.Old == "" {
			return nil, fmt.Errorf("change %d: empty search text: %w", i, ErrSubstringNotFound)
		}
		if !strings.Contains(out, c.Old) {
			return nil, fmt.Errorf("change %d: %q: %w", i, abbreviate(c.Old, 40), ErrSubstringNotFound)
		}
		out = strings.ReplaceAll(out, c.Old, c.New)
	}
	return []byte(out), nil
}

// Backups lists the retained backups of path, newest first.
func (m *Mutator) Backups(path string) ([]BackupMetadata, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	return listBackups(abs)
}

// Restore replaces path with the content of the backup carrying sequence.
// The current content is itself backed up first, so a restore can be
// undone. The restored content is not validated.
func (m *Mutator) Restore(ctx context.Context, path string, sequence int64) Result {
	return m.withPathLock(path, func(abs string, res *Result) {
		res.Description = fmt.Sprintf("restore backup %d", sequence)
		backups, err := listBackups(abs)
		if err != nil {
			m.fail(res, resultPrecondition, err.Error())
			return
		}
		var target *BackupMetadata
		for i := range backups {
			if backups[i].Sequence == sequence {
				target = &backups[i]
				break
			}
		}
		if target == nil {
			m.fail(res, resultPrecondition, fmt.Sprintf("no backup with sequence %d", sequence))
			return
		}
		content, err := os.ReadFile(target.BackupPath)
		if err != nil {
			m.fail(res, resultPrecondition, fmt.Sprintf("read backup: %v", err))
			return
		}
		m.apply(ctx, abs, res, "", false, func([]byte) ([]byte, error) { return content, nil })
		if res.Success {
			res.Message = fmt.Sprintf("restored %s from backup %d", abs, sequence)
		}
	})
}

func (m *Mutator) mutate(ctx context.Context, path, description, smokeTestCmd string, derive func([]byte) ([]byte, error)) Result {
	return m.withPathLock(path, func(abs string, res *Result) {
		res.Description = description
		m.apply(ctx, abs, res, smokeTestCmd, true, derive)
	})
}

// withPathLock resolves path, holds its lock while fn runs and converts a
// panic into a failed Result.
func (m *Mutator) withPathLock(path string, fn func(abs string, res *Result)) (res Result) {
	res.Path = path
	abs, err := filepath.Abs(path)
	if err != nil {
		m.fail(&res, resultPrecondition, fmt.Sprintf("resolve path: %v", err))
		return res
	}
	res.Path = abs

	unlock := m.locks.Lock(abs)
	defer unlock()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("mutation panicked", zap.String("path", abs), zap.Any("panic", r))
			res.Success = false
			res.Message = fmt.Sprintf("mutation panicked: %v", r)
		}
	}()

	fn(abs, &res)
	return res
}

// apply runs the backup, write, validate, smoke test and prune sequence.
// The caller holds the path lock.
func (m *Mutator) apply(ctx context.Context, path string, res *Result, smokeTestCmd string, validate bool, derive func([]byte) ([]byte, error)) {
	info, err := os.Stat(path)
	if err != nil {
		m.fail(res, resultPrecondition, fmt.Sprintf("stat: %v", err))
		return
	}
	if !info.Mode().IsRegular() {
		m.fail(res, resultPrecondition, "not a regular file")
		return
	}
	current, err := os.ReadFile(path)
	if err != nil {
		m.fail(res, resultPrecondition, fmt.Sprintf("read: %v", err))
		return
	}
	next, err := derive(current)
	if err != nil {
		m.fail(res, resultPrecondition, err.Error())
		return
	}
	if bytes.Equal(current, next) {
		res.Success = true
		res.Message = "content unchanged"
		res.Validation = ValidationOutcome{Success: true}
		recordMutation(resultUnchanged)
		return
	}
	if err := ctx.Err(); err != nil {
		m.fail(res, resultPrecondition, fmt.Sprintf("not started: %v", err))
		return
	}

	backup, err := m.createBackup(path, current)
	if err != nil {
		m.fail(res, resultBackup, fmt.Sprintf("backup failed: %v", err))
		return
	}
	res.Backup = backup

	perm := info.Mode().Perm()
	if err := writeAtomic(path, next, perm); err != nil {
		// The rename never happened, so the original is intact.
		m.fail(res, resultWrite, fmt.Sprintf("write failed: %v", err))
		return
	}

	if validate {
		res.Validation = m.validate(ctx, path, current, next)
		if !res.Validation.Success {
			errs := res.Validation.Errors()
			m.rollback(path, backup, current, perm, res)
			m.fail(res, resultValidation, fmt.Sprintf("syntax validation failed: %s", describeIssues(errs)))
			return
		}
	} else {
		res.Validation = ValidationOutcome{Success: true}
	}

	if smokeTestCmd != "" {
		if err := m.smokeTest(ctx, path, smokeTestCmd); err != nil {
			m.rollback(path, backup, current, perm, res)
			m.fail(res, resultSmoke, err.Error())
			return
		}
	}

	m.pruneBackups(path)

	res.Success = true
	res.Message = "applied"
	if res.Description != "" {
		res.Message = "applied: " + res.Description
	}
	recordMutation(resultSuccess)
	m.logger.Info("file mutated",
		zap.String("path", path),
		zap.String("description", res.Description),
		zap.Int64("backup_sequence", backup.Sequence),
		zap.Int("warnings", len(res.Validation.Warnings())))
}

// validate runs the syntax validator for path, then the linters if syntax
// passed. Panicking validators count as syntax errors; panicking linters
// are ignored.
func (m *Mutator) validate(ctx context.Context, path string, before, after []byte) (out ValidationOutcome) {
	errs := m.checkSyntax(path, after)
	out.Issues = append(out.Issues, errs...)
	out.Success = len(errs) == 0
	if !out.Success {
		return out
	}
	for _, l := range m.linters {
		out.Issues = append(out.Issues, m.runLinter(ctx, l, path, before, after)...)
	}
	return out
}

func (m *Mutator) checkSyntax(path string, content []byte) (issues []ValidationIssue) {
	defer func() {
		if r := recover(); r != nil {
			issues = []ValidationIssue{syntaxIssue(path, 0, fmt.Sprintf("validator panicked: %v", r))}
		}
	}()
	return m.validators.Check(path, content)
}

func (m *Mutator) runLinter(ctx context.Context, l Linter, path string, before, after []byte) (issues []ValidationIssue) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("linter panicked", zap.String("linter", l.Name()), zap.Any("panic", r))
			issues = nil
		}
	}()
	issues = l.Lint(ctx, path, before, after)
	for i := range issues {
		issues[i].Severity = SeverityWarning
	}
	return issues
}

func (m *Mutator) smokeTest(ctx context.Context, path, command string) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.SmokeTestTimeout)
	defer cancel()

	dir := m.cfg.SmokeTestDir
	if dir == "" {
		dir = filepath.Dir(path)
	}
	start := time.Now()
	stdout, stderr, code, err := m.runner.Run(ctx, dir, command)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("smoke test timed out after %s", m.cfg.SmokeTestTimeout)
		}
		return fmt.Errorf("smoke test could not run: %w", err)
	}
	if code != 0 {
		out := strings.TrimSpace(stdout + "\n" + stderr)
		return fmt.Errorf("smoke test failed with exit code %d: %s", code, tail(out, 20))
	}
	m.logger.Debug("smoke test passed", zap.String("path", path), zap.Duration("duration", time.Since(start)))
	return nil
}

// rollback restores path from the backup file, falling back to the
// in-memory original if the backup cannot be read.
func (m *Mutator) rollback(path string, backup *BackupMetadata, original []byte, perm os.FileMode, res *Result) {
	content, err := os.ReadFile(backup.BackupPath)
	if err != nil || hashContent(content) != backup.ContentHash {
		m.logger.Warn("backup unreadable, restoring from memory", zap.String("backup", backup.BackupPath), zap.Error(err))
		content = original
	}
	if err := writeAtomic(path, content, perm); err != nil {
		recordRollback(false)
		m.logger.Error("rollback failed", zap.String("path", path), zap.String("backup", backup.BackupPath), zap.Error(err))
		res.Message = fmt.Sprintf("rollback failed: %v", err)
		return
	}
	recordRollback(true)
	res.RolledBack = true
	m.logger.Warn("mutation rolled back", zap.String("path", path), zap.Int64("backup_sequence", backup.Sequence))
}

// fail marks res as failed. A message already set by a failed rollback is
// kept as a suffix.
func (m *Mutator) fail(res *Result, result, msg string) {
	res.Success = false
	if res.Message != "" {
		msg = msg + "; " + res.Message
	}
	res.Message = msg
	recordMutation(result)
	m.logger.Debug("mutation failed", zap.String("path", res.Path), zap.String("result", result), zap.String("message", msg))
}

func describeIssues(issues []ValidationIssue) string {
	parts := make([]string, 0, len(issues))
	for i, is := range issues {
		if i == 3 {
			parts = append(parts, fmt.Sprintf("and %d more", len(issues)-3))
			break
		}
		if is.LineNumber > 0 {
			parts = append(parts, fmt.Sprintf("line %d: %s", is.LineNumber, is.Message))
		} else {
			parts = append(parts, is.Message)
		}
	}
	return strings.Join(parts, "; ")
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
