package port

import "context"

// ConfigEntry is one persisted security_config override row.
type ConfigEntry struct {
	Key   string
	Value string
	Type  string
}

// SecurityConfigRepository stores policy overrides as typed key/value rows.
type SecurityConfigRepository interface {
	LoadAll(ctx context.Context) ([]ConfigEntry, error)
	// UpsertAll persists the supplied entries atomically.
	UpsertAll(ctx context.Context, entries []ConfigEntry) error
}
