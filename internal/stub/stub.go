// Package stub provides deterministic stand-ins for the repair, mechanics and rendering
// backends so the pipeline can run without external tools.
package stub

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonathan/protein-minimizer/internal/mechanics"
	"github.com/jonathan/protein-minimizer/internal/pdb"
	"github.com/jonathan/protein-minimizer/internal/rendering"
	"github.com/jonathan/protein-minimizer/internal/repair"
	"github.com/jonathan/protein-minimizer/internal/types"
)

// Structure builds a deterministic structure of nres residues with four backbone atoms each.
func Structure(identifier string, nres int) *types.StructureRecord {
	names := []string{"N", "CA", "C", "O"}
	elements := []string{"N", "C", "C", "O"}
	residues := []string{"ALA", "GLY", "SER", "LEU", "LYS", "ASP"}

	atoms := make([]types.Atom, 0, nres*len(names))
	for r := 0; r < nres; r++ {
		for a := range names {
			i := float64(len(atoms))
			atoms = append(atoms, types.Atom{
				Serial:       len(atoms) + 1,
				Name:         names[a],
				Element:      elements[a],
				ResidueName:  residues[r%len(residues)],
				Chain:        "A",
				ResidueIndex: r + 1,
				Coord:        types.Coord{3.8 * math.Cos(i/3), 3.8 * math.Sin(i/3), 1.5 * i},
			})
		}
	}
	return types.NewStructureRecord(identifier, types.StageRepaired, atoms)
}

// Repairer returns pre-built structures, or reads the input file when none is registered.
type Repairer struct {
	mu         sync.Mutex
	Structures map[string]*types.StructureRecord
	Failures   map[string]string
	Calls      []string
}

// Repair implements repair.Repairer.
func (r *Repairer) Repair(ctx context.Context, input pdb.Input, ph float64) (*types.StructureRecord, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, input.Identifier)
	r.mu.Unlock()

	if reason, ok := r.Failures[input.Identifier]; ok {
		return nil, &repair.RepairError{Identifier: input.Identifier, Message: reason}
	}
	if rec, ok := r.Structures[input.Identifier]; ok {
		out := rec.Clone()
		out.Identifier = input.Identifier
		out.Stage = types.StageRepaired
		return out, nil
	}
	rec, err := pdb.ReadFile(input.Path, types.StageRepaired)
	if err != nil {
		return nil, &repair.RepairError{Identifier: input.Identifier, Message: "failed to read input", Cause: err}
	}
	rec.Identifier = input.Identifier
	return rec, nil
}

// Mechanics displaces every atom by a small deterministic offset and reports a fixed
// energy drop. Failures, Panics and EnergyIncrease select per-identifier misbehaviour.
type Mechanics struct {
	mu             sync.Mutex
	Failures       map[string]string
	Panics         map[string]bool
	EnergyIncrease map[string]bool
	// DropAtoms makes the result one coordinate short for the identifier.
	DropAtoms map[string]bool
	// Delay is slept before returning, to exercise concurrency.
	Delay time.Duration
	// OnCall observes each request before it is processed.
	OnCall func(req mechanics.Request)

	Requests []mechanics.Request
}

// BuildAndMinimize implements mechanics.Mechanics.
func (m *Mechanics) BuildAndMinimize(ctx context.Context, req mechanics.Request) (*mechanics.Result, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	onCall := m.OnCall
	m.mu.Unlock()
	if onCall != nil {
		onCall(req)
	}

	id := req.Structure.Identifier
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}
	if m.Panics[id] {
		panic(fmt.Sprintf("mechanics backend crashed on %s", id))
	}
	initial := -1000.0 - float64(len(req.Structure.Atoms))
	if reason, ok := m.Failures[id]; ok {
		return nil, &mechanics.MechanicsError{
			Message: reason,
			Trace:   &types.EnergyTrace{InitialEnergy: initial},
		}
	}

	coords := req.Structure.Coords()
	for i := range coords {
		coords[i][0] += 0.05 * math.Sin(float64(i))
		coords[i][1] += 0.05 * math.Cos(float64(i))
	}
	if m.DropAtoms[id] && len(coords) > 0 {
		coords = coords[:len(coords)-1]
	}

	final := initial - 250
	if m.EnergyIncrease[id] {
		final = initial + 5
	}
	iterations := req.Config.MaxIterations / 2
	platform := "CPU"
	if req.Config.Hardware == types.GPU {
		platform = fmt.Sprintf("%s:%d", req.Config.GPUPlatform, req.Device)
	}
	return &mechanics.Result{
		Coords:        coords,
		InitialEnergy: initial,
		FinalEnergy:   final,
		Iterations:    iterations,
		Converged:     true,
		Platform:      platform,
	}, nil
}

// Renderer writes placeholder image and session files, failing for listed identifiers.
type Renderer struct {
	mu       sync.Mutex
	Failures map[string]string
	Requests []rendering.Request
}

// Render implements rendering.Renderer.
func (r *Renderer) Render(ctx context.Context, req rendering.Request) (*rendering.Artifacts, error) {
	r.mu.Lock()
	r.Requests = append(r.Requests, req)
	r.mu.Unlock()

	if reason, ok := r.Failures[req.Identifier]; ok {
		return nil, &rendering.RenderError{Message: reason}
	}
	if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
		return nil, &rendering.RenderError{Message: "failed to create output directory", Cause: err}
	}
	artifacts := &rendering.Artifacts{
		Image:   filepath.Join(req.OutputDir, req.Identifier+".png"),
		Session: filepath.Join(req.OutputDir, req.Identifier+".pse"),
	}
	for _, path := range []string{artifacts.Image, artifacts.Session} {
		if err := os.WriteFile(path, []byte(req.Identifier), 0644); err != nil {
			return nil, &rendering.RenderError{Message: "failed to write placeholder", Cause: err}
		}
	}
	return artifacts, nil
}
