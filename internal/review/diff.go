package review

import "maps"

// NotificationKind identifies what a notification reports.
type NotificationKind int

const (
	// GlobalFailure reports a transition into a new global error.
	GlobalFailure NotificationKind = iota + 1
	// UnidentifiedRecord reports a record that failed before it had a name.
	UnidentifiedRecord
	// NewSubmission reports a submission seen for the first time.
	NewSubmission
	// NewUndetermined follows NewSubmission when the new submission has an unknown status.
	NewUndetermined
	// StatusChanged reports a new verdict on a known submission.
	StatusChanged
	// ChangedUndetermined follows StatusChanged when the new status is unknown.
	ChangedUndetermined
)

var kindNames = map[NotificationKind]string{
	GlobalFailure:       "global_failure",
	UnidentifiedRecord:  "unidentified_record",
	NewSubmission:       "new_submission",
	NewUndetermined:     "new_undetermined",
	StatusChanged:       "status_changed",
	ChangedUndetermined: "changed_undetermined",
}

// String returns a stable snake_case name, suitable for logs and metric labels.
func (k NotificationKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Notification is one user-facing change detected by Diff.
// Only the fields relevant to Kind are set.
type Notification struct {
	Kind   NotificationKind
	Name   string
	Status Status
	Global GlobalError
	Record RecordError
}

// Diff reconciles the previous Storage with a freshly normalized batch.
//
// It returns the Storage to keep for the next cycle and the notifications to emit, in
// batch order. previous is never modified.
func Diff(previous Storage, batch Batch) (Storage, []Notification) {
	if batch.GlobalError == previous.GlobalError && batch.GlobalError != Healthy {
		return previous, nil
	}

	if batch.GlobalError != Healthy {
		next := previous
		next.GlobalError = batch.GlobalError
		return next, []Notification{{Kind: GlobalFailure, Global: batch.GlobalError}}
	}

	next := Storage{
		GlobalError: Healthy,
		States:      maps.Clone(previous.States),
	}
	if next.States == nil {
		next.States = make(map[string]SubmissionState)
	}

	var notes []Notification
	for _, state := range batch.States {
		notes = append(notes, reconcile(next.States, state)...)
	}
	return next, notes
}

// reconcile applies one state to states and returns the notifications it causes.
func reconcile(states map[string]SubmissionState, state SubmissionState) []Notification {
	if !state.Identified() {
		return []Notification{{Kind: UnidentifiedRecord, Record: state.Error}}
	}

	old, found := states[state.Name]
	if !found {
		states[state.Name] = state
		notes := []Notification{{Kind: NewSubmission, Name: state.Name, Status: state.Status}}
		if state.Status == StatusUnknown {
			notes = append(notes, Notification{Kind: NewUndetermined, Name: state.Name})
		}
		return notes
	}

	if old.Status == state.Status {
		return nil
	}

	states[state.Name] = state
	notes := []Notification{{Kind: StatusChanged, Name: state.Name, Status: state.Status}}
	if state.Status == StatusUnknown {
		notes = append(notes, Notification{Kind: ChangedUndetermined, Name: state.Name})
	}
	return notes
}
