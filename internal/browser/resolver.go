package browser

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/afero"
)

// ErrNoExecutable is returned when no resolver finds a usable browser binary.
var ErrNoExecutable = errors.New("no browser executable found")

// Resolution is the outcome of executable discovery.
type Resolution struct {
	Path string
	// Managed marks a binary supplied by the runtime environment. Only managed binaries are
	// launched with the sandbox disabled.
	Managed bool
	Source  string
}

// ExecutableResolver locates a browser binary.
type ExecutableResolver interface {
	Resolve() (Resolution, error)
}

// StaticResolver returns an explicitly configured path, provided it exists.
type StaticResolver struct {
	Path string
	Fs   afero.Fs
}

// Resolve implements ExecutableResolver.
func (r StaticResolver) Resolve() (Resolution, error) {
	path := strings.TrimSpace(r.Path)
	if path == "" {
		return Resolution{}, ErrNoExecutable
	}
	if !isFile(fsOrOS(r.Fs), path) {
		return Resolution{}, fmt.Errorf("configured executable %q: %w", path, ErrNoExecutable)
	}
	return Resolution{Path: path, Source: "config"}, nil
}

// Default environment variables that advertise a managed browser binary.
var defaultManagedEnv = []string{"WEBTHUMB_MANAGED_CHROME", "CHROME_BIN"}

// ManagedResolver finds a binary bundled with the runtime: either a configured path or one
// advertised through environment variables.
type ManagedResolver struct {
	Path    string
	EnvKeys []string
	Getenv  func(string) string
	Fs      afero.Fs
}

// Resolve implements ExecutableResolver.
func (r ManagedResolver) Resolve() (Resolution, error) {
	fs := fsOrOS(r.Fs)
	if path := strings.TrimSpace(r.Path); path != "" && isFile(fs, path) {
		return Resolution{Path: path, Managed: true, Source: "managed"}, nil
	}
	getenv := r.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	keys := r.EnvKeys
	if keys == nil {
		keys = defaultManagedEnv
	}
	for _, key := range keys {
		path := strings.TrimSpace(getenv(key))
		if path != "" && isFile(fs, path) {
			return Resolution{Path: path, Managed: true, Source: "env:" + key}, nil
		}
	}
	return Resolution{}, ErrNoExecutable
}

// OSResolver probes the well-known install locations of the given OS family.
type OSResolver struct {
	GOOS string
	Fs   afero.Fs
}

// Resolve implements ExecutableResolver.
func (r OSResolver) Resolve() (Resolution, error) {
	goos := r.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	fs := fsOrOS(r.Fs)
	for _, candidate := range CandidatesFor(goos) {
		if isFile(fs, candidate) {
			return Resolution{Path: candidate, Source: "probe:" + goos}, nil
		}
	}
	return Resolution{}, fmt.Errorf("probe %s install locations: %w", goos, ErrNoExecutable)
}

// CandidatesFor lists install locations in probe order.
func CandidatesFor(goos string) []string {
	switch goos {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"/Applications/Google Chrome Canary.app/Contents/MacOS/Google Chrome Canary",
			"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge",
		}
	case "windows":
		return []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files\Chromium\Application\chrome.exe`,
			`C:\Program Files (x86)\Microsoft\Edge\Application\msedge.exe`,
		}
	default:
		return []string{
			"/usr/bin/google-chrome-stable",
			"/usr/bin/google-chrome",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
			"/usr/lib/chromium/chromium",
			"/headless-shell/headless-shell",
		}
	}
}

// ChainResolver returns the first successful resolution.
type ChainResolver []ExecutableResolver

// Resolve implements ExecutableResolver.
func (c ChainResolver) Resolve() (Resolution, error) {
	var errs []error
	for _, r := range c {
		if r == nil {
			continue
		}
		res, err := r.Resolve()
		if err == nil {
			return res, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Resolution{}, ErrNoExecutable
	}
	return Resolution{}, errors.Join(append([]error{ErrNoExecutable}, errs...)...)
}

// ResolverConfig feeds NewResolver.
type ResolverConfig struct {
	ExecPath    string
	ManagedPath string
	Fs          afero.Fs
}

// NewResolver builds the standard chain: explicit path, managed binary, OS probes.
func NewResolver(cfg ResolverConfig) ChainResolver {
	fs := fsOrOS(cfg.Fs)
	chain := ChainResolver{}
	if strings.TrimSpace(cfg.ExecPath) != "" {
		chain = append(chain, StaticResolver{Path: cfg.ExecPath, Fs: fs})
	}
	chain = append(chain,
		ManagedResolver{Path: cfg.ManagedPath, Fs: fs},
		OSResolver{Fs: fs},
	)
	return chain
}

func fsOrOS(fs afero.Fs) afero.Fs {
	if fs == nil {
		return afero.NewOsFs()
	}
	return fs
}

func isFile(fs afero.Fs, path string) bool {
	info, err := fs.Stat(path)
	return err == nil && !info.IsDir()
}
