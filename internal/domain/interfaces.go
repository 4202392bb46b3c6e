package domain

import "context"

// ArtifactComputer is the external compute collaborator. Implementations are
// expected to be slow and expensive; the pipeline exists to call this once per
// unit per day and cache the result.
//
// Errors must be classifiable: a MissingInputError when the snapshot is
// absent, a PermanentComputeError for unrecoverable input problems, and a
// TransientComputeError for anything worth retrying.
type ArtifactComputer interface {
	ComputeArtifact(ctx context.Context, symbol, date string, snap *RawSnapshot) (*Artifact, error)
}

// SnapshotSource provides read access to upstream raw snapshots.
type SnapshotSource interface {
	// Get returns nil, nil when no snapshot exists for the key.
	Get(ctx context.Context, symbol, date string) (*RawSnapshot, error)
	// CountForDate returns how many snapshots exist for a date.
	CountForDate(ctx context.Context, date string) (int, error)
}
