package repository

import (
	"context"

	"applet-tester/internal/domain/model"
)

// LogArchive keeps a copy of run logs outside the working directory
type LogArchive interface {
	// Archive stores the log of result and returns its location
	Archive(ctx context.Context, result *model.RunResult) (string, error)
}

// RunLedger records run results
type RunLedger interface {
	// Record stores one run result
	Record(ctx context.Context, result *model.RunResult) error

	// Close releases the ledger's resources
	Close()
}
