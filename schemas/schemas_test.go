package schemas

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllSchemaFiles_ValidJSON(t *testing.T) {
	schemaFiles := []string{
		"common.schema.json",
		"run_metadata.schema.json",
		"batch_report.schema.json",
	}

	for _, schemaFile := range schemaFiles {
		t.Run(schemaFile, func(t *testing.T) {
			data, err := FS.ReadFile(schemaFile)
			require.NoError(t, err, "should be able to read schema file")

			var v map[string]interface{}
			err = json.Unmarshal(data, &v)
			require.NoError(t, err, "schema file should be valid JSON: %s", schemaFile)
			assert.Contains(t, v["$id"], schemaFile)
		})
	}
}
