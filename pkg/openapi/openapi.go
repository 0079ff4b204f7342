// Package openapi embeds the hand-written OpenAPI document describing
// fleetpulse's HTTP query surface.
package openapi

import _ "embed"

//go:embed spec.json
var specJSON []byte

// GetSpec returns the embedded OpenAPI document.
func GetSpec() ([]byte, error) {
	return specJSON, nil
}
