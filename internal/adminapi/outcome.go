package adminapi

import (
	"errors"
	"time"
)

// Category classifies a finished invocation.
type Category string

const (
	CategorySuccess        Category = "success"
	CategoryRemoteError    Category = "remote_error"
	CategoryTransportError Category = "transport_error"
)

// ErrParse wraps a response body that could not be decoded.
var ErrParse = errors.New("response body parse failed")

// Outcome is the terminal result of one invocation. It is observed (logged,
// counted, audited) and then dropped; scheduling never depends on it.
type Outcome struct {
	Action   Action
	Category Category
	Status   int
	Body     string
	Payload  any // decoded response, nil when ParseErr != nil or on transport errors
	Err      error
	ParseErr error
	Took     time.Duration
}

// OK reports a 200 response with a readable body.
func (o Outcome) OK() bool { return o.Category == CategorySuccess && o.ParseErr == nil }

// Label is the short outcome name used for metrics and audit records.
func (o Outcome) Label() string {
	if o.Category != CategoryTransportError && o.ParseErr != nil {
		return "parse_error"
	}
	return string(o.Category)
}
