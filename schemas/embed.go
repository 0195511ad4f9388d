// Package schemas embeds the JSON Schemas for artifacts written by a batch run.
package schemas

import "embed"

// FS holds every *.schema.json file in this directory.
//
//go:embed *.schema.json
var FS embed.FS
