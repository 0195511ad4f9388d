package types

// EnergyTrace holds the potential energies reported by a minimization, in kJ/mol.
type EnergyTrace struct {
	InitialEnergy float64 `json:"initial_energy"`
	FinalEnergy   float64 `json:"final_energy"`
	// HasFinal is false when the run failed before a final energy was evaluated.
	HasFinal   bool   `json:"has_final"`
	Iterations int    `json:"iterations"`
	Converged  bool   `json:"converged"`
	Platform   string `json:"platform,omitempty"`
}

// Delta returns final minus initial energy.
func (t EnergyTrace) Delta() float64 {
	return t.FinalEnergy - t.InitialEnergy
}

// EnergyRecord is one row of the energy table.
type EnergyRecord struct {
	Identifier    string  `json:"identifier"`
	InitialEnergy float64 `json:"initial_energy"`
	FinalEnergy   float64 `json:"final_energy"`
	DeltaEnergy   float64 `json:"delta_energy"`
	// EnergyIncreased marks a positive delta beyond the configured tolerance.
	EnergyIncreased bool `json:"energy_increased,omitempty"`
}

// NewEnergyRecord builds an EnergyRecord from a trace, flagging positive deltas above tolerance.
func NewEnergyRecord(identifier string, trace EnergyTrace, tolerance float64) EnergyRecord {
	delta := trace.Delta()
	return EnergyRecord{
		Identifier:      identifier,
		InitialEnergy:   trace.InitialEnergy,
		FinalEnergy:     trace.FinalEnergy,
		DeltaEnergy:     delta,
		EnergyIncreased: delta > tolerance,
	}
}
