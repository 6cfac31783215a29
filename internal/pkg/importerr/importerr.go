package importerr

import (
	"errors"
	"fmt"
	"strings"
)

type Code string

const (
	SourceUnavailable             Code = "source_unavailable"
	MalformedDocument             Code = "malformed_document"
	SchemaDrift                   Code = "schema_drift"
	IncompleteNutrientMeasurement Code = "incomplete_nutrient_measurement"
	IncompleteFoodRecord          Code = "incomplete_food_record"
	RecordShapeDrift              Code = "record_shape_drift"
	BatchCommitFailure            Code = "batch_commit_failure"
	PreMaterializationIncomplete  Code = "pre_materialization_incomplete"
	VerificationMismatch          Code = "verification_mismatch"
	InvalidConfig                 Code = "invalid_config"
)

// IsFatal reports whether an error with this code aborts a run.
// Record-local codes are collected and summarised instead.
func IsFatal(code Code) bool {
	switch code {
	case SchemaDrift, IncompleteNutrientMeasurement, IncompleteFoodRecord, RecordShapeDrift:
		return false
	default:
		return true
	}
}

// Error carries the code plus the batch/record context of a failure.
// Committed is the number of batches of Phase committed before Batch failed.
type Error struct {
	Code      Code
	Op        string
	Phase     string
	Batch     int
	Committed int
	Record    int
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e == nil {
		return "import failed"
	}
	var b strings.Builder
	b.WriteString("import failed (")
	if e.Op != "" {
		fmt.Fprintf(&b, "op=%s ", e.Op)
	}
	fmt.Fprintf(&b, "code=%s", e.Code)
	if e.Phase != "" {
		fmt.Fprintf(&b, " phase=%s batch=%d committed=%d", e.Phase, e.Batch, e.Committed)
	}
	if e.Record > 0 {
		fmt.Fprintf(&b, " record=%d", e.Record)
	}
	b.WriteString(")")
	switch {
	case e.Message != "" && e.Cause != nil:
		fmt.Fprintf(&b, ": %s: %v", e.Message, e.Cause)
	case e.Message != "":
		fmt.Fprintf(&b, ": %s", e.Message)
	case e.Cause != nil:
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func New(code Code, op, msg string) *Error {
	return &Error{Code: code, Op: op, Message: msg}
}

func Wrap(code Code, op, msg string, cause error) *Error {
	return &Error{Code: code, Op: op, Message: msg, Cause: cause}
}

// BatchFailure builds the error reported when a batch does not commit.
func BatchFailure(phase string, batch, committed int, cause error) *Error {
	return &Error{
		Code:      BatchCommitFailure,
		Op:        "apply_batch",
		Phase:     phase,
		Batch:     batch,
		Committed: committed,
		Cause:     cause,
	}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
