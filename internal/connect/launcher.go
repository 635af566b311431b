package connect

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"
)

// BrowserLauncher opens URLs in the system browser.
type BrowserLauncher struct {
	// command overrides the platform opener; used in tests.
	command func(ctx context.Context, url string) *exec.Cmd
}

// Open starts the platform URL opener. The returned window cannot close
// the browser tab; Close only marks it done.
func (l BrowserLauncher) Open(ctx context.Context, url string) (Window, error) {
	build := l.command
	if build == nil {
		build = openCommand
	}
	cmd := build(ctx, url)
	if cmd == nil {
		return nil, fmt.Errorf("%w: no browser opener for %s", ErrPopupBlocked, runtime.GOOS)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPopupBlocked, err)
	}
	go func() { _ = cmd.Wait() }()
	return &HeadlessWindow{URL: url}, nil
}

func openCommand(ctx context.Context, url string) *exec.Cmd {
	switch runtime.GOOS {
	case "darwin":
		return exec.CommandContext(ctx, "open", url)
	case "windows":
		return exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", url)
	case "linux", "freebsd", "openbsd", "netbsd":
		return exec.CommandContext(ctx, "xdg-open", url)
	default:
		return nil
	}
}

// HeadlessLauncher records URLs instead of opening them, optionally
// printing them for the user to open by hand.
type HeadlessLauncher struct {
	// Out receives the URL when set.
	Out io.Writer
	// Blocked makes every Open fail with ErrPopupBlocked.
	Blocked bool

	mu      sync.Mutex
	windows []*HeadlessWindow
}

func (l *HeadlessLauncher) Open(_ context.Context, url string) (Window, error) {
	if l.Blocked {
		return nil, ErrPopupBlocked
	}
	if l.Out != nil {
		fmt.Fprintf(l.Out, "Open this URL to authorize:\n\n  %s\n\n", url)
	}
	w := &HeadlessWindow{URL: url}
	l.mu.Lock()
	l.windows = append(l.windows, w)
	l.mu.Unlock()
	return w, nil
}

// Windows returns every window opened so far.
func (l *HeadlessLauncher) Windows() []*HeadlessWindow {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*HeadlessWindow(nil), l.windows...)
}

// HeadlessWindow is a window with no real surface.
type HeadlessWindow struct {
	URL string

	mu     sync.Mutex
	closes int
}

func (w *HeadlessWindow) Close() error {
	w.mu.Lock()
	w.closes++
	w.mu.Unlock()
	return nil
}

// Closes reports how many times Close was called.
func (w *HeadlessWindow) Closes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closes
}
