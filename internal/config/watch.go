package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// DISPATCH_SCALING_MAX_WORKERS.
const EnvPrefix = "DISPATCH"

// defaultDebounce coalesces the burst of events editors produce on save.
const defaultDebounce = 100 * time.Millisecond

// NewViper returns a viper instance with defaults, environment overrides and,
// when path is non-empty, the config file at path.
func NewViper(path string) *viper.Viper {
	v := viper.New()
	SetDefaultsOn(v)
	BindEnv(v)
	if path != "" {
		v.SetConfigFile(path)
	}
	return v
}

// BindEnv enables DISPATCH_-prefixed environment overrides on v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Watcher reloads the config file when it changes and hands each valid
// configuration to a callback. Invalid edits are reported and ignored.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	onError  func(error)
	debounce time.Duration

	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
}

// NewWatcher creates a watcher for the config file at path. onError may be nil.
func NewWatcher(path string, onChange func(*Config), onError func(error)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory so atomic-rename saves are still seen
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &Watcher{
		path:     abs,
		watcher:  fw,
		onChange: onChange,
		onError:  onError,
		debounce: defaultDebounce,
	}, nil
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopCh != nil {
		return
	}
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})
	go w.watchLoop(w.stopCh, w.done)
}

// Stop stops watching and releases the fsnotify watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	stopCh, done := w.stopCh, w.done
	w.stopCh = nil
	w.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-done
	}
	return w.watcher.Close()
}

func (w *Watcher) watchLoop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C // drain initial timer
	defer debounceTimer.Stop()

	for {
		select {
		case <-stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounceTimer.Reset(w.debounce)

		case <-debounceTimer.C:
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.onError(fmt.Errorf("config watcher: %w", err))
		}
	}
}

func (w *Watcher) reload() {
	v := NewViper(w.path)
	if err := v.ReadInConfig(); err != nil {
		w.onError(fmt.Errorf("read config: %w", err))
		return
	}
	cfg, err := LoadFrom(v)
	if err != nil {
		w.onError(err)
		return
	}
	w.onChange(cfg)
}
