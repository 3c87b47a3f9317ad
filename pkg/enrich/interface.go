// Package enrich provides entry point for record enrichment plugins
package enrich

import "context"

// Enricher defines the behaviour that must be implemented by an enrichment plugin
type Enricher interface {
	// Lookup resolves term (typically an IP address) into a flat map of
	// field name to value, ready to be merged into a host record
	Lookup(ctx context.Context, term string) (fields map[string]interface{}, err error)
	Initialize(config []byte) error
}
