package config

import "time"

// Grid constants. Stored cell keys and historical claims are defined relative
// to these exact values; changing them invalidates all prior ownership data.
const (
	// CellSizeMeters is the side length of one grid cell in planar meters.
	CellSizeMeters = 50.0

	// LoopCloseMeters is the maximum planar distance between the first and
	// last point of a trace for it to count as a closed loop.
	LoopCloseMeters = 100.0

	// CellLockDuration is the holding period granted by every successful
	// claim. A cell cannot be taken by another user before it expires.
	CellLockDuration = 12 * time.Hour

	// RasterCellWarnLimit is the candidate-cell count above which the
	// rasterizer logs a diagnostic. Oversized loops still complete.
	RasterCellWarnLimit = 50000

	// ConquestSampleLimit caps the number of cell keys included in one
	// conquest notification payload.
	ConquestSampleLimit = 100
)

// Worker intervals
const (
	// SyncWorkerInterval defines how often the sync worker picks up
	// unprocessed activities.
	SyncWorkerInterval = 30 * time.Second
)

// Cache TTLs
const (
	// ViewportCacheTTL defines how long a viewport query response stays in
	// Redis before it is recomputed.
	ViewportCacheTTL = 15 * time.Second
)
