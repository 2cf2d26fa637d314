package learning

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harrison/aegis/internal/filelock"
)

// Export is the on-disk snapshot of every owner
type Export struct {
	SchemaVersion int                  `json:"schema_version"`
	Owners        map[string]*Snapshot `json:"owners"`
}

// BuildExport loads every owner from the store
func BuildExport(ctx context.Context, s *Store) (*Export, error) {
	owners, err := s.Owners(ctx)
	if err != nil {
		return nil, err
	}
	out := &Export{SchemaVersion: SchemaVersion, Owners: make(map[string]*Snapshot, len(owners))}
	for _, owner := range owners {
		snap, err := s.Load(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", owner, err)
		}
		out.Owners[owner] = snap
	}
	return out, nil
}

// ExportToFile writes the snapshot of every owner as indented JSON. Concurrent
// exports to the same path are serialized and each write is atomic.
func ExportToFile(ctx context.Context, s *Store, path string) (*Export, error) {
	export, err := BuildExport(ctx, s)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal export: %w", err)
	}
	if err := filelock.LockAndWrite(path, data); err != nil {
		return nil, err
	}
	return export, nil
}
