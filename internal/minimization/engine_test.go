package minimization

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/protein-minimizer/internal/mechanics"
	"github.com/jonathan/protein-minimizer/internal/stub"
	"github.com/jonathan/protein-minimizer/internal/types"
)

func TestMinimize_Success(t *testing.T) {
	rec := stub.Structure("1abc", 5)
	before := rec.Coords()
	engine := NewEngine(&stub.Mechanics{}, nil, nil)

	minimized, trace, err := engine.Minimize(context.Background(), rec, types.DefaultRunConfiguration())
	require.NoError(t, err)

	assert.Equal(t, types.StageMinimized, minimized.Stage)
	assert.Equal(t, len(rec.Atoms), len(minimized.Atoms))
	assert.Equal(t, rec.Residues, minimized.Residues)
	for i := range rec.Atoms {
		assert.Equal(t, rec.Atoms[i].Name, minimized.Atoms[i].Name)
	}
	assert.Equal(t, before, rec.Coords(), "input record must not be modified")
	assert.NotEqual(t, before, minimized.Coords())

	assert.True(t, trace.HasFinal)
	assert.Less(t, trace.FinalEnergy, trace.InitialEnergy)
	assert.LessOrEqual(t, trace.Iterations, types.DefaultMaxIterations)
	assert.Equal(t, "CPU", trace.Platform)
}

func TestMinimize_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.RunConfiguration)
		rec    *types.StructureRecord
	}{
		{
			name:   "zero iterations",
			mutate: func(c *types.RunConfiguration) { c.MaxIterations = 0 },
			rec:    stub.Structure("1abc", 2),
		},
		{
			name: "implicit solvent with charmm",
			mutate: func(c *types.RunConfiguration) {
				c.ForceField = types.CHARMM36
				c.Solvent = types.Implicit(types.GBn2)
			},
			rec: stub.Structure("1abc", 2),
		},
		{
			name:   "empty structure",
			mutate: func(c *types.RunConfiguration) {},
			rec:    types.NewStructureRecord("empty", types.StageRepaired, nil),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mech := &stub.Mechanics{}
			cfg := types.DefaultRunConfiguration()
			tt.mutate(&cfg)

			_, _, err := NewEngine(mech, nil, nil).Minimize(context.Background(), tt.rec, cfg)
			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Empty(t, mech.Requests, "backend must not be called")
		})
	}
}

func TestMinimize_BackendFailureKeepsPartialTrace(t *testing.T) {
	mech := &stub.Mechanics{Failures: map[string]string{"1abc": "nan in forces"}}

	_, _, err := NewEngine(mech, nil, nil).Minimize(context.Background(), stub.Structure("1abc", 3), types.DefaultRunConfiguration())
	var minErr *MinimizationError
	require.True(t, errors.As(err, &minErr))
	assert.Equal(t, "1abc", minErr.Identifier)
	require.NotNil(t, minErr.Trace)
	assert.False(t, minErr.Trace.HasFinal)
	assert.Contains(t, err.Error(), "nan in forces")
}

func TestMinimize_CoordinateCountMismatch(t *testing.T) {
	mech := &stub.Mechanics{DropAtoms: map[string]bool{"1abc": true}}

	_, _, err := NewEngine(mech, nil, nil).Minimize(context.Background(), stub.Structure("1abc", 3), types.DefaultRunConfiguration())
	var minErr *MinimizationError
	assert.True(t, errors.As(err, &minErr))
}

// scripted returns a fixed result for every request.
type scripted struct {
	result mechanics.Result
}

func (s scripted) BuildAndMinimize(ctx context.Context, req mechanics.Request) (*mechanics.Result, error) {
	r := s.result
	if r.Coords == nil {
		r.Coords = req.Structure.Coords()
	}
	return &r, nil
}

func TestMinimize_RejectsBadBackendOutput(t *testing.T) {
	rec := stub.Structure("1abc", 2)
	cfg := types.DefaultRunConfiguration()
	cfg.MaxIterations = 10

	nanCoords := rec.Coords()
	nanCoords[3][1] = math.NaN()

	tests := []struct {
		name   string
		result mechanics.Result
		errMsg string
	}{
		{
			name:   "over budget",
			result: mechanics.Result{InitialEnergy: -10, FinalEnergy: -20, Iterations: 11},
			errMsg: "budget",
		},
		{
			name:   "non-finite energy",
			result: mechanics.Result{InitialEnergy: -10, FinalEnergy: math.Inf(-1), Iterations: 3},
			errMsg: "not finite",
		},
		{
			name:   "non-finite coordinate",
			result: mechanics.Result{Coords: nanCoords, InitialEnergy: -10, FinalEnergy: -20, Iterations: 3},
			errMsg: "atom 3",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := NewEngine(scripted{tt.result}, nil, nil).Minimize(context.Background(), rec, cfg)
			var minErr *MinimizationError
			require.True(t, errors.As(err, &minErr))
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestMinimize_EnergyIncreaseIsNotAnError(t *testing.T) {
	mech := &stub.Mechanics{EnergyIncrease: map[string]bool{"1abc": true}}

	_, trace, err := NewEngine(mech, nil, nil).Minimize(context.Background(), stub.Structure("1abc", 2), types.DefaultRunConfiguration())
	require.NoError(t, err)
	assert.Greater(t, trace.Delta(), 0.0)
}

func TestMinimize_GPUSerializesPerDevice(t *testing.T) {
	var active, peak atomic.Int32
	mech := &stub.Mechanics{
		Delay: 20 * time.Millisecond,
		OnCall: func(req mechanics.Request) {
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
	engine := NewEngine(&countingMechanics{Mechanics: mech, active: &active}, NewDevicePool([]int{0}), nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, trace, err := engine.Minimize(context.Background(), stub.Structure("1abc", 2), cfg)
			assert.NoError(t, err)
			assert.Equal(t, "CUDA:0", trace.Platform)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
}

// countingMechanics decrements active once the wrapped call returns.
type countingMechanics struct {
	*stub.Mechanics
	active *atomic.Int32
}

func (c *countingMechanics) BuildAndMinimize(ctx context.Context, req mechanics.Request) (*mechanics.Result, error) {
	defer c.active.Add(-1)
	return c.Mechanics.BuildAndMinimize(ctx, req)
}

func TestMinimize_GPUCancelledWhileWaiting(t *testing.T) {
	pool := NewDevicePool([]int{0})
	_, release, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	cfg := types.DefaultRunConfiguration()
	cfg.Hardware = types.GPU
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, err = NewEngine(&stub.Mechanics{}, pool, nil).Minimize(ctx, stub.Structure("1abc", 2), cfg)
	var minErr *MinimizationError
	require.True(t, errors.As(err, &minErr))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
