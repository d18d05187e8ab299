package chaintemplate

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/pesio-ai/be-discipline-placements/internal/domain"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/errors"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/logger"
)

// FallbackTemplate names the single-step chain used when nothing matches.
const FallbackTemplate = "fallback"

// Resolver turns case facts into an evaluated step sequence. The template
// set can be swapped at runtime; each resolution sees one consistent set.
type Resolver struct {
	set      atomic.Pointer[Set]
	eval     *Evaluator
	fallback StepTemplate
	log      *logger.Logger
}

// NewResolver creates a resolver with an empty set.
func NewResolver(eval *Evaluator, fallback StepTemplate, log *logger.Logger) *Resolver {
	r := &Resolver{eval: eval, fallback: fallback, log: log.Component("chaintemplate")}
	r.set.Store(&Set{})
	return r
}

// Replace installs a new template set.
func (r *Resolver) Replace(s *Set) {
	r.set.Store(s)
}

// Load reads path and installs its templates. On error the current set is
// kept.
func (r *Resolver) Load(path string) error {
	s, err := Load(path, r.eval)
	if err != nil {
		return err
	}
	r.Replace(s)
	r.log.Info().Str("path", path).Int("templates", s.Len()).Msg("Chain templates loaded")
	return nil
}

// Resolve evaluates applicability for every step and returns the template
// name with the frozen step definitions. A non-empty explicit sequence
// takes precedence over the configured templates.
func (r *Resolver) Resolve(f Facts, explicit []StepTemplate) (string, []domain.StepDefinition, error) {
	name := "explicit"
	steps := explicit
	eval := r.eval.EvalOnce
	if len(steps) == 0 {
		eval = r.eval.Eval
		t, ok := r.set.Load().Match(f)
		if ok {
			name, steps = t.Name, t.Steps
		} else {
			name, steps = FallbackTemplate, []StepTemplate{r.fallback}
		}
	}

	defs := make([]domain.StepDefinition, 0, len(steps))
	for i, st := range steps {
		role := strings.ToLower(strings.TrimSpace(st.Role))
		if role == "" {
			return "", nil, errors.InvalidInput("steps", fmt.Sprintf("step %d has no role", i+1))
		}
		ok, err := eval(st.AppliesWhen, f)
		if err != nil {
			return "", nil, errors.Wrap(err, errors.ErrCodeInvalidInput, fmt.Sprintf("step %d applies_when", i+1))
		}
		label := st.Label
		if label == "" {
			label = role
		}
		defs = append(defs, domain.StepDefinition{
			Role:        role,
			Label:       label,
			AppliesWhen: st.AppliesWhen,
			Applicable:  ok,
		})
	}
	return name, defs, nil
}

// Watch reloads path whenever it is written or replaced, until ctx is done.
// The parent directory is watched so editors that rename over the file are
// picked up. Reload failures are logged and the previous set stays live.
func (r *Resolver) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				r.log.Debug().Str("op", event.Op.String()).Str("file", event.Name).Msg("Chain template change")
				if err := r.Load(target); err != nil {
					r.log.Error().Err(err).Str("path", target).Msg("Chain template reload failed, keeping previous set")
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}
