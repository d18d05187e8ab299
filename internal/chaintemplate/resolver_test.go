package chaintemplate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-discipline-placements/internal/platform/errors"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/logger"
)

const doc = `
templates:
  - name: standard
    priority: 100
    consequence_types: [daep, DAEP_Discretionary]
    steps:
      - role: cbc
        label: Campus Behavior Coordinator
      - role: sped_coordinator
        label: SPED Coordinator
        applies_when: student.sped || student.section_504
      - role: Principal
  - name: north_campus
    priority: 5
    campuses: [north]
    steps:
      - role: principal
`

func newResolver(t *testing.T) (*Resolver, *Evaluator) {
	t.Helper()
	eval, err := NewEvaluator()
	require.NoError(t, err)
	r := NewResolver(eval, StepTemplate{Role: "principal", Label: "Principal"}, logger.Nop())
	set, err := Parse([]byte(doc), eval)
	require.NoError(t, err)
	r.Replace(set)
	return r, eval
}

func TestEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	ok, err := eval.Eval("", Facts{})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = eval.Eval("student.sped && incident.consequence_type == 'daep'", Facts{SPED: true, ConsequenceType: "daep"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = eval.Eval("student.section_504", Facts{SPED: true})
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, eval.Compile("student.sped &&"))
	assert.Error(t, eval.Compile("unknown_var"))

	_, err = eval.Eval("incident.campus_id", Facts{CampusID: "north"})
	assert.Error(t, err, "non-boolean result")
}

func TestParseRejectsBadDocuments(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := map[string]string{
		"no name":      "templates: [{steps: [{role: cbc}]}]",
		"no steps":     "templates: [{name: a}]",
		"blank role":   "templates: [{name: a, steps: [{role: ' '}]}]",
		"duplicate":    "templates: [{name: a, steps: [{role: cbc}]}, {name: a, steps: [{role: cbc}]}]",
		"bad cel":      "templates: [{name: a, steps: [{role: cbc, applies_when: 'student.'}]}]",
		"invalid yaml": "templates: [",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(in), eval)
			assert.Error(t, err)
		})
	}
}

func TestResolveMatchesByPriority(t *testing.T) {
	r, _ := newResolver(t)

	name, defs, err := r.Resolve(Facts{CampusID: "north", ConsequenceType: "daep"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "north_campus", name)
	require.Len(t, defs, 1)

	name, defs, err = r.Resolve(Facts{CampusID: "south", ConsequenceType: "daep_discretionary", SPED: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, "standard", name)
	require.Len(t, defs, 3)
	assert.True(t, defs[1].Applicable)
	assert.Equal(t, "principal", defs[2].Role)
	assert.Equal(t, "principal", defs[2].Label)
	assert.Equal(t, "student.sped || student.section_504", defs[1].AppliesWhen)
}

func TestResolveFreezesApplicability(t *testing.T) {
	r, _ := newResolver(t)
	_, defs, err := r.Resolve(Facts{CampusID: "south", ConsequenceType: "daep"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, []bool{defs[0].Applicable, defs[1].Applicable, defs[2].Applicable})
}

func TestResolveFallback(t *testing.T) {
	r, _ := newResolver(t)
	name, defs, err := r.Resolve(Facts{CampusID: "south", ConsequenceType: "expulsion"}, nil)
	require.NoError(t, err)
	assert.Equal(t, FallbackTemplate, name)
	require.Len(t, defs, 1)
	assert.Equal(t, "principal", defs[0].Role)
	assert.True(t, defs[0].Applicable)
}

func TestResolveExplicit(t *testing.T) {
	r, _ := newResolver(t)
	name, defs, err := r.Resolve(Facts{SPED: false}, []StepTemplate{
		{Role: "counselor"},
		{Role: "sped_coordinator", AppliesWhen: "student.sped"},
	})
	require.NoError(t, err)
	assert.Equal(t, "explicit", name)
	require.Len(t, defs, 2)
	assert.False(t, defs[1].Applicable)

	_, _, err = r.Resolve(Facts{}, []StepTemplate{{Role: ""}})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	_, _, err = r.Resolve(Facts{}, []StepTemplate{{Role: "cbc", AppliesWhen: "student.("}})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestExplicitExpressionsAreNotCached(t *testing.T) {
	r, eval := newResolver(t)
	eval.mu.RLock()
	before := len(eval.prgCache)
	eval.mu.RUnlock()

	for i := 0; i < 50; i++ {
		_, _, err := r.Resolve(Facts{}, []StepTemplate{
			{Role: "cbc", AppliesWhen: fmt.Sprintf("incident.id != 'inc-%d'", i)},
		})
		require.NoError(t, err)
	}

	eval.mu.RLock()
	defer eval.mu.RUnlock()
	assert.Equal(t, before, len(eval.prgCache))
}

func TestExpensiveExpressionIsRejected(t *testing.T) {
	r, eval := newResolver(t)
	list := "[" + strings.TrimSuffix(strings.Repeat("1,", 20), ",") + "]"
	expr := "student.sped || true"
	for _, v := range []string{"d", "c", "b", "a"} {
		expr = fmt.Sprintf("%s.all(%s, %s)", list, v, expr)
	}

	_, err := eval.Eval(expr, Facts{})
	require.Error(t, err)

	_, _, err = r.Resolve(Facts{}, []StepTemplate{{Role: "cbc", AppliesWhen: expr}})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestLoadKeepsSetOnError(t *testing.T) {
	r, _ := newResolver(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "chains.yaml")
	require.NoError(t, os.WriteFile(path, []byte("templates: ["), 0o600))

	assert.Error(t, r.Load(path))
	name, _, err := r.Resolve(Facts{CampusID: "north"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "north_campus", name)
}

func TestWatchReloads(t *testing.T) {
	r, _ := newResolver(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "chains.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx, path) }()

	updated := "templates: [{name: only_dean, steps: [{role: dean}]}]"
	assert.Eventually(t, func() bool {
		// rewrite until the watcher is registered and picks it up
		_ = os.WriteFile(path, []byte(updated), 0o600)
		name, _, err := r.Resolve(Facts{CampusID: "north"}, nil)
		return err == nil && name == "only_dean"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestBundledTemplatesParse(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	set, err := Load(filepath.Join("..", "..", "configs", "chain_templates.yaml"), eval)
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
}
