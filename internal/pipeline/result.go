package pipeline

import (
	"github.com/TobiSchelling/ukcovid/internal/dataset"
)

// Outcome classifies how an ingestion run ended.
type Outcome int

const (
	Failed Outcome = iota
	AlreadyPresent
	Uploaded
	SourceUnavailable
	WriteFailed
)

func (o Outcome) String() string {
	switch o {
	case AlreadyPresent:
		return "already_present"
	case Uploaded:
		return "uploaded"
	case SourceUnavailable:
		return "source_unavailable"
	case WriteFailed:
		return "write_failed"
	default:
		return "failed"
	}
}

// Result is what one ingestion run reports back to its caller.
type Result struct {
	Kind       dataset.Kind
	Date       string
	Outcome    Outcome
	Rows       int
	Unresolved []string
	Err        error
}

// Message is the status line shown to the user.
func (r Result) Message() string {
	switch r.Outcome {
	case AlreadyPresent:
		return "Already Uploaded"
	case Uploaded:
		return "Upload Complete"
	case SourceUnavailable:
		return "Not Available"
	case WriteFailed:
		return "Write Failed: " + errString(r.Err)
	default:
		return "Failed: " + errString(r.Err)
	}
}

// OK reports whether the run ended without an error. A release that is not
// published yet is not an error.
func (r Result) OK() bool {
	return r.Outcome != Failed && r.Outcome != WriteFailed
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
