package worker

import (
	"strconv"
	"time"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
)

// Report summarizes one run.
type Report struct {
	RunID    string
	Captured int
	// SkipsByState counts entries recorded as visited but empty.
	SkipsByState map[harvest.PageState]int
	Failures     []*harvest.EntryError
	// Interrupted is set when the run stopped before exhausting its entries.
	Interrupted bool
}

func newReport(runID string) *Report {
	return &Report{RunID: runID, SkipsByState: map[harvest.PageState]int{}}
}

func (r *Report) addSkip(state harvest.PageState) {
	r.SkipsByState[state]++
}

func (r *Report) addFailure(err *harvest.EntryError) {
	r.Failures = append(r.Failures, err)
}

// Skipped returns the number of non-extractable entries.
func (r *Report) Skipped() int {
	n := 0
	for _, c := range r.SkipsByState {
		n += c
	}
	return n
}

// Processed returns the number of entries attempted.
func (r *Report) Processed() int {
	return r.Captured + r.Skipped() + len(r.Failures)
}

// FailuresByStep counts failures per originating step.
func (r *Report) FailuresByStep() map[harvest.Step]int {
	out := map[harvest.Step]int{}
	for _, f := range r.Failures {
		out[f.Step]++
	}
	return out
}

// Notification announces a committed snapshot.
type Notification struct {
	RunID      string            `json:"run_id"`
	EntryID    int64             `json:"entry_id"`
	CapturedAt time.Time         `json:"captured_at"`
	State      harvest.PageState `json:"state"`
	ArchiveURI string            `json:"archive_uri,omitempty"`
}

// Attributes returns the message attributes used for subscription filtering.
func (n Notification) Attributes() map[string]string {
	return map[string]string{
		"entry_id": strconv.FormatInt(n.EntryID, 10),
		"state":    string(n.State),
	}
}
