package db

// Schema defines the SQLite database schema for the run journal.
// Every scenario run gets one row, checkpointed after each phase so the
// resources of an interrupted run can still be torn down.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    scenario TEXT NOT NULL DEFAULT '',
    pool_name TEXT NOT NULL,
    mutation TEXT NOT NULL DEFAULT 'none',
    flags TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL CHECK(status IN ('pending', 'running', 'pass', 'fail', 'error')),
    phase TEXT NOT NULL DEFAULT '',
    reason TEXT,
    stderr TEXT,
    old_uuid TEXT,
    new_uuid TEXT,
    descriptor_path TEXT,
    descriptor_sha256 TEXT,
    descriptor_file TEXT,
    corrupt_file TEXT,
    created_pool TEXT,
    create_attempted INTEGER NOT NULL DEFAULT 0,
    foreign_pool INTEGER NOT NULL DEFAULT 0,
    pool_handle TEXT,
    device TEXT,
    warnings INTEGER NOT NULL DEFAULT 0,
    timings TEXT,
    cleaned INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_cleaned ON runs(cleaned);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

// Status constants
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusPass    = "pass"
	StatusFail    = "fail"
	StatusError   = "error"
)

// Run represents one scenario run record
type Run struct {
	ID       string
	Scenario string
	PoolName string
	Mutation string
	Flags    string
	Status   string
	Phase    string
	Reason   string
	Stderr   string

	OldUUID string
	NewUUID string

	DescriptorPath   string
	DescriptorSHA256 string
	DescriptorFile   string
	CorruptFile      string

	CreatedPool     string
	CreateAttempted bool
	ForeignPool     bool

	// JSON encoded provisioned pool handle and fresh backing device
	PoolHandle string
	Device     string

	// Cleanup warning count and JSON encoded phase durations of the verdict
	Warnings int
	Timings  string

	Cleaned   bool
	CreatedAt string
	UpdatedAt string
}

// Finished reports whether the run reached a verdict.
func (r *Run) Finished() bool {
	return r.Status == StatusPass || r.Status == StatusFail || r.Status == StatusError
}
