package installed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Lock is exclusive access to a registry. Release it with Unlock; an
// expired lease or Registry.Close releases it too.
type Lock struct {
	reg    *Registry
	fl     *flock.Flock
	reason string
	logger *slog.Logger
	timer  *time.Timer

	mu       sync.Mutex
	released bool
	once     sync.Once
	err      error
}

// Reason returns the text given when the lock was taken.
func (l *Lock) Reason() string { return l.reason }

// Packages returns the registry contents.
func (l *Lock) Packages(ctx context.Context) ([]Package, error) {
	if err := l.check(ctx); err != nil {
		return nil, err
	}
	return l.reg.load()
}

// Find returns the entry for group and name, compared case-insensitively.
func (l *Lock) Find(ctx context.Context, group, name string) (*Package, error) {
	pkgs, err := l.Packages(ctx)
	if err != nil {
		return nil, err
	}
	want := Package{Group: group, Name: name}.ID()
	for i := range pkgs {
		if pkgs[i].ID().Equal(want) {
			return &pkgs[i], nil
		}
	}
	return nil, nil
}

// Register inserts pkg, replacing any entry with the same group and name.
func (l *Lock) Register(ctx context.Context, pkg Package) error {
	if err := l.check(ctx); err != nil {
		return err
	}
	pkgs, err := l.reg.load()
	if err != nil {
		return err
	}

	if pkg.InstalledAt.IsZero() {
		pkg.InstalledAt = time.Now().UTC()
	}

	replaced := false
	for i := range pkgs {
		if pkgs[i].ID().Equal(pkg.ID()) {
			pkgs[i] = pkg
			replaced = true
			break
		}
	}
	if !replaced {
		pkgs = append(pkgs, pkg)
	}

	if err := l.reg.save(pkgs); err != nil {
		return err
	}
	l.logger.Log(ctx, slog.LevelDebug, "package registered",
		slog.String("package", pkg.ID().FullName()),
		slog.String("version", pkg.Version),
	)
	return nil
}

func (l *Lock) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return ErrLockReleased
	}
	return nil
}

// Unlock releases the lock. Calling it again, or after the lease expired
// or the registry was closed, does nothing.
func (l *Lock) Unlock() error {
	l.once.Do(func() {
		l.mu.Lock()
		l.released = true
		l.mu.Unlock()

		if l.timer != nil {
			l.timer.Stop()
		}
		l.err = l.fl.Unlock()
		l.reg.release(l)
	})
	return l.err
}

func (l *Lock) expire() {
	l.logger.Warn("registry lock lease expired, releasing",
		slog.String("reason", l.reason),
		slog.Duration("lease", l.reg.lease),
	)
	_ = l.Unlock()
}
