package models

// Outcome is the result of deleting one identifier.
type Outcome int

const (
	Succeeded Outcome = iota
	FailedRetryable
	FailedExhausted
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case FailedRetryable:
		return "failed_retryable"
	case FailedExhausted:
		return "failed_exhausted"
	}
	return "unknown"
}

// ClassReport is the reconciliation result for one resource class.
type ClassReport struct {
	Class     ResourceClass `json:"class"`
	Label     string        `json:"label"`
	Found     int           `json:"found"`
	Deleted   int           `json:"deleted"`
	Failed    int           `json:"failed"`
	Remaining int           `json:"remaining"`

	FailedIDs    []string `json:"failed_ids,omitempty"`
	RemainingIDs []string `json:"remaining_ids,omitempty"`

	// ListError and VerifyError carry transport failures of the listing
	// passes. A failed verification leaves Remaining at -1 (unknown).
	ListError   string `json:"list_error,omitempty"`
	VerifyError string `json:"verify_error,omitempty"`

	// Memory store only.
	Cleared *bool `json:"cleared,omitempty"`

	DryRun bool `json:"dry_run,omitempty"`
}

// Converged reports whether the class reached the empty target state.
func (c ClassReport) Converged() bool {
	if c.Cleared != nil {
		return *c.Cleared
	}
	return c.ListError == "" && c.VerifyError == "" && c.Remaining == 0
}

// Warning reports whether the class needs the operator's attention. A dry
// run changes nothing, so it only warns when listing failed.
func (c ClassReport) Warning() bool {
	if c.DryRun {
		return c.ListError != "" || c.VerifyError != ""
	}
	return !c.Converged()
}

// Report aggregates class reports in the order they were processed.
type Report struct {
	Classes []ClassReport `json:"classes"`
}

// Add appends a class report.
func (r *Report) Add(c ClassReport) {
	r.Classes = append(r.Classes, c)
}

// Totals sums the counters across enumerable classes.
func (r *Report) Totals() (found, deleted, failed, remaining int) {
	for _, c := range r.Classes {
		if c.Cleared != nil {
			continue
		}
		found += c.Found
		deleted += c.Deleted
		failed += c.Failed
		if c.Remaining > 0 {
			remaining += c.Remaining
		}
	}
	return
}

// Warnings reports whether any class carries a warning.
func (r *Report) Warnings() bool {
	for _, c := range r.Classes {
		if c.Warning() {
			return true
		}
	}
	return false
}
