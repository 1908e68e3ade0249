// Package review tracks the review state of homework submissions across polling cycles.
//
// A cycle feeds a freshly fetched payload through Validate and Normalize, then hands the
// resulting Batch to Diff together with the Storage of the previous cycle. Diff returns the
// Storage to keep for the next cycle and the notifications to deliver, in order.
package review

import (
	"reflect"

	"github.com/go-viper/mapstructure/v2"
)

// RecordsKey is the payload key holding the list of submission records.
const RecordsKey = "homeworks"

// Status is the review verdict code of a submission.
type Status string

// Known verdict codes, plus the sentinel used for anything else.
const (
	StatusApproved  Status = "approved"
	StatusReviewing Status = "reviewing"
	StatusRejected  Status = "rejected"
	StatusUnknown   Status = "unknown"
)

// Known reports whether the status belongs to the closed verdict table.
func (s Status) Known() bool {
	switch s {
	case StatusApproved, StatusReviewing, StatusRejected:
		return true
	default:
		return false
	}
}

// SubmissionState is the normalized state of one submission.
type SubmissionState struct {
	Name   string
	Status Status
	Error  RecordError

	// Extra holds the record fields this package does not interpret.
	Extra map[string]any
}

// Identified reports whether the state carries a name it can be tracked by.
func (s SubmissionState) Identified() bool {
	return s.Error == RecordOK || s.Error == UnknownStatus
}

// Storage is the state kept between cycles.
type Storage struct {
	GlobalError GlobalError
	States      map[string]SubmissionState
}

// NewStorage returns the healthy, empty Storage a process starts with.
func NewStorage() Storage {
	return Storage{States: make(map[string]SubmissionState)}
}

// Batch is the normalized result of one fetch.
// States is only meaningful when GlobalError is Healthy.
type Batch struct {
	GlobalError GlobalError
	States      []SubmissionState
}

// Validate checks the shape of a fetched payload and returns its submission records unchanged.
// The returned error is always a GlobalError.
func Validate(payload any) ([]any, error) {
	if isEmpty(payload) {
		return nil, EmptyResponse
	}
	m, ok := payload.(map[string]any)
	if !ok {
		return nil, WrongType
	}
	v, ok := m[RecordsKey]
	if !ok {
		return nil, MissingKey
	}
	records, ok := v.([]any)
	if !ok {
		return nil, WrongValueType
	}
	return records, nil
}

// isEmpty reports falsy payloads: nil, zero scalars and empty containers.
func isEmpty(payload any) bool {
	if payload == nil {
		return true
	}
	v := reflect.ValueOf(payload)
	switch v.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.String:
		return v.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return v.IsNil()
	default:
		return v.IsZero()
	}
}

// rawRecord splits a record into its identifying fields and everything else.
type rawRecord struct {
	Name   any            `mapstructure:"homework_name"`
	Status any            `mapstructure:"status"`
	Extra  map[string]any `mapstructure:",remain"`
}

// Normalize converts one raw record into a SubmissionState.
//
// It never fails: problems are reported through the Error field so that one bad
// record does not abort the rest of the batch. An unrecognized status is replaced by
// StatusUnknown.
func Normalize(record any) SubmissionState {
	m, ok := record.(map[string]any)
	if !ok {
		return SubmissionState{Error: WrongRecord}
	}
	if len(m) == 0 {
		return SubmissionState{Error: EmptyRecord}
	}

	var raw rawRecord
	decoder, err := mapstructure.NewDecoder(getDecoderConfig(&raw))
	if err != nil {
		return SubmissionState{Error: WrongRecord}
	}
	if err := decoder.Decode(m); err != nil {
		return SubmissionState{Error: WrongRecord}
	}

	var name string
	if raw.Name == nil || mapstructure.WeakDecode(raw.Name, &name) != nil {
		return SubmissionState{Error: MissingName}
	}

	state := SubmissionState{
		Name:   name,
		Status: StatusUnknown,
		Extra:  raw.Extra,
	}
	if s, ok := raw.Status.(string); ok {
		state.Status = Status(s)
	}
	if !state.Status.Known() {
		state.Status = StatusUnknown
		state.Error = UnknownStatus
	}

	return state
}

// getDecoderConfig matches record keys exactly: "Homework_Name" is not "homework_name".
func getDecoderConfig(target *rawRecord) *mapstructure.DecoderConfig {
	return &mapstructure.DecoderConfig{
		MatchName: func(mapKey, fieldName string) bool {
			return mapKey == fieldName
		},
		Result: target,
	}
}

// NormalizeAll normalizes every record, keeping the order of the input.
func NormalizeAll(records []any) []SubmissionState {
	states := make([]SubmissionState, 0, len(records))
	for _, r := range records {
		states = append(states, Normalize(r))
	}
	return states
}
