//go:build !embed_openapi

package api

import "os"

// openAPILoad reads the OpenAPI document from disk so edits show up
// without a rebuild. Release builds use the embed_openapi tag instead.
func openAPILoad() ([]byte, error) {
    return os.ReadFile("internal/api/openapi.yaml")
}
