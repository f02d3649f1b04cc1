package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 500 * time.Millisecond

// ReloadingPolicy serves risk decisions from the most recently compiled Rego module.
// A failed reload keeps the previous module in place.
type ReloadingPolicy struct {
	current    atomic.Pointer[OPAEvaluator]
	thresholds Thresholds
}

// NewReloadingPolicy compiles module. An empty module uses DefaultRegoPolicy.
func NewReloadingPolicy(ctx context.Context, module string, t Thresholds) (*ReloadingPolicy, error) {
	p := &ReloadingPolicy{thresholds: t}
	if err := p.Reload(ctx, module); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload compiles module and swaps it in.
func (p *ReloadingPolicy) Reload(ctx context.Context, module string) error {
	e, err := NewOPAEvaluator(ctx, module, p.thresholds)
	if err != nil {
		return err
	}
	p.current.Store(e)
	return nil
}

// Decide delegates to the current module.
func (p *ReloadingPolicy) Decide(ctx context.Context, in RiskInput) (RiskDecision, error) {
	return p.current.Load().Decide(ctx, in)
}

// HealthCheck delegates to the current module.
func (p *ReloadingPolicy) HealthCheck(ctx context.Context) error {
	return p.current.Load().HealthCheck(ctx)
}

// WatchFile reloads the module from path whenever the file is written or replaced, until ctx
// is done. The parent directory is watched so editors that rename over the file are seen.
func (p *ReloadingPolicy) WatchFile(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("policy: create watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("policy: resolve %s: %w", path, err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("policy: watch %s: %w", filepath.Dir(abs), err)
	}
	log.Printf("policy: watching %s for changes", abs)

	timer := time.NewTimer(reloadDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			timer.Reset(reloadDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Printf("policy: watcher error: %v", err)
		case <-timer.C:
			p.reloadFile(ctx, abs)
		}
	}
}

func (p *ReloadingPolicy) reloadFile(ctx context.Context, path string) {
	b, err := os.ReadFile(path)
	if err != nil {
		log.Printf("policy: read %s: %v", path, err)
		return
	}
	if err := p.Reload(ctx, string(b)); err != nil {
		log.Printf("policy: reload %s rejected, keeping previous module: %v", path, err)
		return
	}
	log.Printf("policy: reloaded %s", path)
}
