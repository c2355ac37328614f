package installer

// Status is the per-component outcome of an install run.
type Status string

const (
	// StatusInstalled means all files were written and the ledger entry
	// appended.
	StatusInstalled Status = "installed"

	// StatusFailed means the component aborted and its writes were
	// rolled back.
	StatusFailed Status = "failed"

	// StatusSkipped means the component was never attempted because a
	// dependency did not install.
	StatusSkipped Status = "skipped"
)

// ComponentResult is the outcome for one plan entry.
type ComponentResult struct {
	Name    string
	Version string
	Status  Status

	// Err carries the failure with its causal chain; set when Status is
	// StatusFailed.
	Err error

	// SkippedBecause names the failed dependency chain; set when Status
	// is StatusSkipped.
	SkippedBecause string

	// Warnings are non-fatal observations (e.g., unused template
	// variables).
	Warnings []string

	// PostInstall is the component's advisory post-install message.
	PostInstall string

	// Files lists the installed files with checksums; set when Status is
	// StatusInstalled.
	Files []FileRecord
}

// Report covers every component of the plan, in plan order, plus the full
// ledger state after the run.
type Report struct {
	RunID   string
	Results []ComponentResult
	Ledger  []Record
}

// Installed counts successfully installed components.
func (r *Report) Installed() int { return r.count(StatusInstalled) }

// Failed counts failed components.
func (r *Report) Failed() int { return r.count(StatusFailed) }

// Skipped counts components skipped due to dependency failures.
func (r *Report) Skipped() int { return r.count(StatusSkipped) }

func (r *Report) count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}
