// Package installed is the machine- or user-local ledger of installed
// packages. Every read and write happens under a Lock that excludes both
// other goroutines and other processes.
package installed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	slogcontext "github.com/veqryn/slog-context"
)

const (
	dataFile = "installedPackages.json"
	lockFile = ".lock"

	defaultLease        = 10 * time.Minute
	defaultPollInterval = 50 * time.Millisecond
)

var (
	ErrLockTimeout  = errors.New("timed out waiting for registry lock")
	ErrClosed       = errors.New("registry is closed")
	ErrLockReleased = errors.New("registry lock already released")
)

// LockTimeoutError reports which registry could not be locked in time.
type LockTimeoutError struct {
	Path    string
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("registry %s: lock not acquired within %s", e.Path, e.Timeout)
}

func (e *LockTimeoutError) Unwrap() error {
	return ErrLockTimeout
}

// Registry is a handle on one registry directory.
type Registry struct {
	root         string
	lease        time.Duration
	pollInterval time.Duration

	// sem admits one holder per Registry; the file lock covers other
	// handles and other processes.
	sem chan struct{}

	mu     sync.Mutex
	locks  map[*Lock]struct{}
	closed bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithRoot uses dir instead of the scope's default directory.
func WithRoot(dir string) Option {
	return func(r *Registry) {
		r.root = dir
	}
}

// WithLease sets how long a lock may be held before it is released
// regardless of its holder.
func WithLease(d time.Duration) Option {
	return func(r *Registry) {
		r.lease = d
	}
}

// WithPollInterval sets how often a blocked Lock retries the file lock.
func WithPollInterval(d time.Duration) Option {
	return func(r *Registry) {
		r.pollInterval = d
	}
}

// Open returns a handle on the registry for scope. Nothing is touched on
// disk until the first Lock.
func Open(scope Scope, opts ...Option) (*Registry, error) {
	r := &Registry{
		lease:        defaultLease,
		pollInterval: defaultPollInterval,
		sem:          make(chan struct{}, 1),
		locks:        make(map[*Lock]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.root == "" {
		root, err := DefaultRoot(scope)
		if err != nil {
			return nil, err
		}
		r.root = root
	}
	return r, nil
}

// Root returns the registry directory.
func (r *Registry) Root() string { return r.root }

// Path returns the registry data file.
func (r *Registry) Path() string { return filepath.Join(r.root, dataFile) }

// Lock waits up to timeout for exclusive access. A timeout is reported as
// a *LockTimeoutError; cancellation of ctx as ctx.Err().
func (r *Registry) Lock(ctx context.Context, reason string, timeout time.Duration) (*Lock, error) {
	logger := slogcontext.FromCtx(ctx).With(slog.String("realm", "registry"), slog.String("path", r.root))

	if r.isClosed() {
		return nil, ErrClosed
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// A free lock is taken even when timeout is zero.
	select {
	case r.sem <- struct{}{}:
	default:
		select {
		case r.sem <- struct{}{}:
		case <-waitCtx.Done():
			return nil, r.waitError(ctx, timeout)
		}
	}

	if err := os.MkdirAll(r.root, 0o755); err != nil {
		<-r.sem
		return nil, fmt.Errorf("creating registry directory: %w", err)
	}

	fl := flock.New(filepath.Join(r.root, lockFile))
	ok, err := fl.TryLock()
	if err == nil && !ok {
		ok, err = fl.TryLockContext(waitCtx, r.pollInterval)
	}
	if !ok {
		<-r.sem
		if waitCtx.Err() != nil {
			return nil, r.waitError(ctx, timeout)
		}
		if err == nil {
			err = errors.New("file lock not acquired")
		}
		return nil, fmt.Errorf("locking registry: %w", err)
	}

	l := &Lock{reg: r, fl: fl, reason: reason, logger: logger}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = fl.Unlock()
		<-r.sem
		return nil, ErrClosed
	}
	r.locks[l] = struct{}{}
	r.mu.Unlock()

	if r.lease > 0 {
		l.timer = time.AfterFunc(r.lease, l.expire)
	}
	logger.Log(ctx, slog.LevelDebug, "registry locked", slog.String("reason", reason))
	return l, nil
}

func (r *Registry) waitError(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return &LockTimeoutError{Path: r.root, Timeout: timeout}
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close releases every lock still held through this handle. Later calls
// to Lock fail with ErrClosed; Unlock on an old lock stays a no-op.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	held := make([]*Lock, 0, len(r.locks))
	for l := range r.locks {
		held = append(held, l)
	}
	r.mu.Unlock()

	var errs []error
	for _, l := range held {
		errs = append(errs, l.Unlock())
	}
	return errors.Join(errs...)
}

func (r *Registry) release(l *Lock) {
	r.mu.Lock()
	delete(r.locks, l)
	r.mu.Unlock()
	<-r.sem
}

func (r *Registry) load() ([]Package, error) {
	data, err := os.ReadFile(r.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var pkgs []Package
	if err := json.Unmarshal(data, &pkgs); err != nil {
		return nil, fmt.Errorf("parsing registry %s: %w", r.Path(), err)
	}
	return pkgs, nil
}

func (r *Registry) save(pkgs []Package) error {
	sort.SliceStable(pkgs, func(i, j int) bool {
		return pkgs[i].ID().Key() < pkgs[j].ID().Key()
	})
	data, err := json.MarshalIndent(pkgs, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(r.root, dataFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("writing registry: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing registry: %w", err)
	}
	if err := os.Rename(tmpName, r.Path()); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing registry: %w", err)
	}
	return nil
}
