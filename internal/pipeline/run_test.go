package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/protein-minimizer/internal/mechanics"
	"github.com/jonathan/protein-minimizer/internal/minimization"
	"github.com/jonathan/protein-minimizer/internal/pdb"
	"github.com/jonathan/protein-minimizer/internal/pipeline/steps"
	"github.com/jonathan/protein-minimizer/internal/rendering"
	"github.com/jonathan/protein-minimizer/internal/report"
	"github.com/jonathan/protein-minimizer/internal/stub"
	"github.com/jonathan/protein-minimizer/internal/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// batch returns n inputs p1..pn with stub structures of increasing size.
func batch(n int) ([]pdb.Input, *stub.Repairer) {
	repairer := &stub.Repairer{Structures: map[string]*types.StructureRecord{}}
	inputs := make([]pdb.Input, n)
	for i := range inputs {
		id := "p" + string(rune('1'+i))
		inputs[i] = pdb.Input{Identifier: id, Path: id + ".pdb"}
		repairer.Structures[id] = stub.Structure(id, 3+i)
	}
	return inputs, repairer
}

func identifiers[T any](rows []T, id func(T) string) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, id(r))
	}
	return out
}

func TestRun_FiveItemsWithRepairAndRenderFailures(t *testing.T) {
	inputs, repairer := batch(5)
	repairer.Failures = map[string]string{"p3": "missing backbone atoms"}
	renderer := &stub.Renderer{Failures: map[string]string{"p2": "ray tracing failed"}}
	out := t.TempDir()

	var mu sync.Mutex
	var events []ProgressEvent
	orch := New(repairer, &stub.Mechanics{Delay: time.Millisecond}, renderer, Options{
		Workers:   3,
		Render:    true,
		OutputDir: out,
		Logger:    quietLogger(),
		OnProgress: func(e ProgressEvent) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		},
	})

	rep, err := orch.Run(context.Background(), inputs, types.DefaultRunConfiguration())
	require.NoError(t, err)

	want := []string{"p1", "p2", "p4", "p5"}
	assert.Equal(t, want, identifiers(rep.Energies, func(e types.EnergyRecord) string { return e.Identifier }))
	assert.Equal(t, want, identifiers(rep.GlobalRMSD, func(g types.GlobalRMSDSummary) string { return g.Identifier }))
	assert.Equal(t, want, identifiers(rep.PerResidue, func(r types.RMSDResult) string { return r.Identifier }))

	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "p3", rep.Failures[0].Identifier)
	assert.Equal(t, types.StateRepaired, rep.Failures[0].Stage)
	assert.Equal(t, types.FailureRepair, rep.Failures[0].Kind)
	assert.Contains(t, rep.Failures[0].Reason, "missing backbone atoms")

	require.Len(t, rep.RenderWarnings, 1)
	assert.Equal(t, "p2", rep.RenderWarnings[0].Identifier)
	assert.Contains(t, rep.RenderWarnings[0].Reason, "ray tracing failed")
	assert.False(t, rep.Cancelled)

	require.Len(t, rep.Items, 5)
	for i, item := range rep.Items {
		assert.Equal(t, i, item.Index)
		assert.NoError(t, steps.ValidateHistory(item.History), item.Identifier)
	}
	assert.Equal(t, types.StateRenderSkipped, rep.Items[1].History[4])
	assert.Equal(t, types.StateRendered, rep.Items[0].History[4])

	for _, energy := range rep.Energies {
		assert.LessOrEqual(t, energy.DeltaEnergy, types.DefaultEnergyTolerance)
	}
	for i, result := range rep.PerResidue {
		assert.Len(t, result.PerResidue, repairer.Structures[want[i]].ResidueCount())
	}

	assert.FileExists(t, filepath.Join(out, report.MinimizedDir, "p1"+report.MinimizedFileSuffix))
	assert.FileExists(t, filepath.Join(out, report.VisualizationsDir, "p1.png"))
	assert.NoFileExists(t, filepath.Join(out, report.MinimizedDir, "p3"+report.MinimizedFileSuffix))
	assert.NoFileExists(t, filepath.Join(out, report.VisualizationsDir, "p2.png"))

	assert.NotEmpty(t, events)
	for _, e := range events {
		assert.Equal(t, 5, e.Total)
	}
}

func TestRun_WritesMinimizedStructure(t *testing.T) {
	inputs, repairer := batch(1)
	out := t.TempDir()

	rep, err := New(repairer, &stub.Mechanics{}, nil, Options{OutputDir: out, Logger: quietLogger()}).
		Run(context.Background(), inputs, types.DefaultRunConfiguration())
	require.NoError(t, err)
	require.Len(t, rep.Items, 1)
	assert.Equal(t, types.StateDone, rep.Items[0].State)
	assert.Empty(t, rep.RenderWarnings)

	rec, err := pdb.ReadFile(filepath.Join(out, report.MinimizedDir, "p1"+report.MinimizedFileSuffix), types.StageMinimized)
	require.NoError(t, err)
	assert.Equal(t, len(repairer.Structures["p1"].Atoms), len(rec.Atoms))
}

func TestRun_ConfigurationErrorFailsBatch(t *testing.T) {
	inputs, repairer := batch(2)
	cfg := types.DefaultRunConfiguration()
	cfg.ForceField = types.CHARMM36
	cfg.Solvent = types.Implicit(types.GBn2)

	rep, err := New(repairer, &stub.Mechanics{}, nil, Options{Logger: quietLogger()}).Run(context.Background(), inputs, cfg)
	assert.Nil(t, rep)
	var cfgErr *minimization.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Empty(t, repairer.Calls, "no item may start")
}

func TestRun_DuplicateIdentifiers(t *testing.T) {
	inputs, repairer := batch(2)
	inputs = append(inputs, pdb.Input{Identifier: "p1", Path: "p1.pdb.gz"})

	_, err := New(repairer, &stub.Mechanics{}, nil, Options{Logger: quietLogger()}).Run(context.Background(), inputs, types.DefaultRunConfiguration())
	var inputErr *pdb.InputError
	assert.ErrorAs(t, err, &inputErr)
}

func TestRun_MinimizationFailureAndPanicAreIsolated(t *testing.T) {
	inputs, repairer := batch(4)
	mech := &stub.Mechanics{
		Failures: map[string]string{"p2": "particle coordinate is nan"},
		Panics:   map[string]bool{"p3": true},
	}
	out := t.TempDir()

	rep, err := New(repairer, mech, nil, Options{Workers: 2, OutputDir: out, Logger: quietLogger()}).
		Run(context.Background(), inputs, types.DefaultRunConfiguration())
	require.NoError(t, err)

	assert.Equal(t, []string{"p1", "p4"}, identifiers(rep.Energies, func(e types.EnergyRecord) string { return e.Identifier }))
	require.Len(t, rep.Failures, 2)

	assert.Equal(t, "p2", rep.Failures[0].Identifier)
	assert.Equal(t, types.StateMinimized, rep.Failures[0].Stage)
	assert.Equal(t, types.FailureMinimization, rep.Failures[0].Kind)

	assert.Equal(t, "p3", rep.Failures[1].Identifier)
	assert.Equal(t, types.StateMinimized, rep.Failures[1].Stage)
	assert.Equal(t, types.FailurePanic, rep.Failures[1].Kind)
	assert.Contains(t, rep.Failures[1].Reason, "crashed")

	assert.Nil(t, rep.Items[1].Energy, "failed items carry no partial results")
	assert.NoFileExists(t, filepath.Join(out, report.MinimizedDir, "p2"+report.MinimizedFileSuffix))
}

func TestRun_CoordinateCountMismatchIsRecorded(t *testing.T) {
	inputs, repairer := batch(2)
	mech := &stub.Mechanics{DropAtoms: map[string]bool{"p1": true}}

	rep, err := New(repairer, mech, nil, Options{Logger: quietLogger()}).Run(context.Background(), inputs, types.DefaultRunConfiguration())
	require.NoError(t, err)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "p1", rep.Failures[0].Identifier)
	assert.Equal(t, types.FailureMinimization, rep.Failures[0].Kind, "coordinate count is checked before alignment")
	assert.Len(t, rep.Energies, 1)
}

func TestRun_EnergyIncreaseIsAWarning(t *testing.T) {
	inputs, repairer := batch(1)
	mech := &stub.Mechanics{EnergyIncrease: map[string]bool{"p1": true}}

	rep, err := New(repairer, mech, nil, Options{Logger: quietLogger()}).Run(context.Background(), inputs, types.DefaultRunConfiguration())
	require.NoError(t, err)
	require.Len(t, rep.Energies, 1)
	assert.True(t, rep.Energies[0].EnergyIncreased)
	assert.Contains(t, rep.Items[0].Warnings[len(rep.Items[0].Warnings)-1], "energy increased")
}

type panickingRenderer struct{}

func (panickingRenderer) Render(ctx context.Context, req rendering.Request) (*rendering.Artifacts, error) {
	panic("segfault in viewer")
}

func TestRun_RendererPanicIsAWarning(t *testing.T) {
	inputs, repairer := batch(2)

	rep, err := New(repairer, &stub.Mechanics{}, panickingRenderer{}, Options{Render: true, OutputDir: t.TempDir(), Logger: quietLogger()}).
		Run(context.Background(), inputs, types.DefaultRunConfiguration())
	require.NoError(t, err)
	assert.Len(t, rep.Energies, 2)
	assert.Empty(t, rep.Failures)
	require.Len(t, rep.RenderWarnings, 2)
	assert.Contains(t, rep.RenderWarnings[0].Reason, "segfault in viewer")
}

func TestRun_CancellationStopsNewItems(t *testing.T) {
	inputs, repairer := batch(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	mech := &stub.Mechanics{OnCall: func(req mechanics.Request) { once.Do(cancel) }}

	rep, err := New(repairer, mech, nil, Options{Workers: 1, Logger: quietLogger()}).Run(ctx, inputs, types.DefaultRunConfiguration())
	require.NoError(t, err)
	assert.True(t, rep.Cancelled)

	require.Len(t, rep.Items, 4)
	first := rep.Items[0]
	assert.Equal(t, types.StatusCancelled, first.Status())
	assert.Equal(t, types.StateMinimized, first.Failure.Stage, "the in-flight stage completes")
	assert.NoError(t, steps.ValidateHistory(first.History))

	for _, item := range rep.Items[1:] {
		assert.Equal(t, types.StatusCancelled, item.Status())
		assert.Equal(t, types.StatePending, item.Failure.Stage)
	}
	assert.Len(t, repairer.Calls, 1, "no new item starts after cancellation")
	assert.Empty(t, rep.Energies)
}

func TestRun_AlreadyCancelled(t *testing.T) {
	inputs, repairer := batch(3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := New(repairer, &stub.Mechanics{}, nil, Options{Logger: quietLogger()}).Run(ctx, inputs, types.DefaultRunConfiguration())
	require.NoError(t, err)
	assert.True(t, rep.Cancelled)
	assert.Len(t, rep.Failures, 3)
	assert.Empty(t, repairer.Calls)
}

func TestRun_GPUMinimizationsAreSerializedPerDevice(t *testing.T) {
	inputs, repairer := batch(5)
	var active, peak atomic.Int32
	devices := sync.Map{}

	mech := &stub.Mechanics{
		Delay: 5 * time.Millisecond,
		OnCall: func(req mechanics.Request) {
			devices.Store(req.Device, true)
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
		},
	}
	cfg := types.DefaultRunConfiguration()
	cfg.Hardware = types.GPU
	cfg.GPUDevices = []int{0}

	rep, err := New(repairer, &trackingMechanics{Mechanics: mech, active: &active}, nil, Options{Workers: 5, Logger: quietLogger()}).
		Run(context.Background(), inputs, cfg)
	require.NoError(t, err)
	assert.Len(t, rep.Energies, 5)
	assert.Equal(t, int32(1), peak.Load())
	for _, item := range rep.Items {
		assert.Equal(t, "CUDA:0", item.Platform)
	}
	_, onlyZero := devices.Load(0)
	assert.True(t, onlyZero)
}

type trackingMechanics struct {
	*stub.Mechanics
	active *atomic.Int32
}

func (m *trackingMechanics) BuildAndMinimize(ctx context.Context, req mechanics.Request) (*mechanics.Result, error) {
	defer m.active.Add(-1)
	return m.Mechanics.BuildAndMinimize(ctx, req)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		stage types.ItemState
		err   error
		want  types.FailureKind
	}{
		{"unknown during repair", types.StateRepaired, errors.New("x"), types.FailureRepair},
		{"unknown during minimization", types.StateMinimized, errors.New("x"), types.FailureMinimization},
		{"configuration", types.StateMinimized, &minimization.ConfigurationError{Message: "bad"}, types.FailureConfiguration},
		{"parse", types.StateRepaired, &pdb.ParseError{Message: "bad"}, types.FailureInput},
		{"transition", types.StateAligned, &steps.TransitionError{From: types.StateDone, To: types.StateFailed}, types.FailurePanic},
		{"cancelled", types.StateAligned, context.Canceled, types.FailureCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.stage, tt.err))
		})
	}
}
