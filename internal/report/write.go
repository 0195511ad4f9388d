package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jonathan/protein-minimizer/internal/schemas"
	"github.com/jonathan/protein-minimizer/internal/types"
)

// WriteArtifacts writes every batch-level artifact into dir and returns the paths written.
// The JSON documents are validated against their schemas before they are written.
func WriteArtifacts(dir string, rep *types.BatchReport, meta *Metadata) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	if err := schemas.ValidateDocument(schemas.BatchReport, rep); err != nil {
		return nil, fmt.Errorf("batch report failed validation: %w", err)
	}
	if err := schemas.ValidateDocument(schemas.RunMetadata, meta); err != nil {
		return nil, fmt.Errorf("run metadata failed validation: %w", err)
	}

	writers := []struct {
		name  string
		write func(io.Writer) error
	}{
		{EnergiesFile, func(w io.Writer) error { return WriteEnergies(w, rep.Energies) }},
		{GlobalRMSDFile, func(w io.Writer) error { return WriteGlobalRMSD(w, rep.GlobalRMSD) }},
		{PerResidueFile, func(w io.Writer) error { return WritePerResidue(w, rep.PerResidue) }},
		{CombinedRMSDFile, func(w io.Writer) error { return WriteCombined(w, rep.PerResidue) }},
		{BatchReportFile, func(w io.Writer) error { return writeJSON(w, rep) }},
		{MetadataFile, func(w io.Writer) error { return writeJSON(w, meta) }},
		{ParametersFile, func(w io.Writer) error { return WriteParameters(w, meta) }},
	}

	paths := make([]string, 0, len(writers))
	for _, wr := range writers {
		var buf bytes.Buffer
		if err := wr.write(&buf); err != nil {
			return paths, fmt.Errorf("failed to render %s: %w", wr.name, err)
		}
		path := filepath.Join(dir, wr.name)
		if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
			return paths, fmt.Errorf("failed to write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
