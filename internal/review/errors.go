package review

import "fmt"

// GlobalError classifies a failure of the whole fetch and validation step.
//
// The zero value means the last fetch was healthy. Any other value is also an
// error, so collaborators can wrap it and the cycle can recover it with errors.As.
type GlobalError int

const (
	// Healthy is the absence of a global error.
	Healthy GlobalError = iota
	// Unreachable is reported when the review service could not be reached.
	Unreachable
	// StatusCode is reported when the review service answered with a non-OK status.
	StatusCode
	// EmptyResponse is reported when the payload is empty.
	EmptyResponse
	// WrongType is reported when the payload is not a mapping.
	WrongType
	// MissingKey is reported when the payload has no homeworks key.
	MissingKey
	// WrongValueType is reported when the homeworks value is not a sequence.
	WrongValueType
)

var globalErrorText = map[GlobalError]string{
	Healthy:        "no error",
	Unreachable:    "review API is unreachable",
	StatusCode:     "review API returned an unexpected status code",
	EmptyResponse:  "empty response from review API",
	WrongType:      "unexpected response type from review API",
	MissingKey:     "missing expected keys in review API response",
	WrongValueType: "unexpected homeworks type in review API response",
}

// Error implements the error interface.
func (g GlobalError) Error() string {
	return g.String()
}

// String returns the display text of the error.
func (g GlobalError) String() string {
	if s, ok := globalErrorText[g]; ok {
		return s
	}
	return fmt.Sprintf("global error %d", int(g))
}

// RecordError classifies why a single submission record could not be cleanly normalized.
type RecordError int

const (
	// RecordOK means the record was cleanly parsed.
	RecordOK RecordError = iota
	// WrongRecord is reported when the record is not a mapping.
	WrongRecord
	// EmptyRecord is reported when the record mapping is empty.
	EmptyRecord
	// MissingName is reported when the record has no usable homework_name.
	MissingName
	// UnknownStatus is reported when the record status is not a known verdict.
	UnknownStatus
)

var recordErrorText = map[RecordError]string{
	RecordOK:      "no error",
	WrongRecord:   "malformed homework record",
	EmptyRecord:   "empty homework record",
	MissingName:   "homework record has no homework_name",
	UnknownStatus: "unknown status in homework record",
}

// String returns the display text of the error.
func (r RecordError) String() string {
	if s, ok := recordErrorText[r]; ok {
		return s
	}
	return fmt.Sprintf("record error %d", int(r))
}
