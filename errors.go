package sender

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingToken      = errors.New("missing Apptuit API token, either configure it or set " + TokenEnv)
	ErrInvalidEndpoint   = errors.New("invalid endpoint")
	ErrInvalidTags       = errors.New("invalid tags")
	ErrMissingTags       = errors.New("missing tags")
	ErrTooManyTags       = errors.New("too many tags")
	ErrInvalidMetricName = errors.New("invalid metric name")
)

// PointError describes why the endpoint rejected a single data point.
type PointError struct {
	Datapoint json.RawMessage `json:"datapoint"`
	Message   string          `json:"error"`
}

// SendError is returned when some or all points of a batch were not accepted.
// Success and Failed count the points of the batch in each outcome.
type SendError struct {
	Msg        string
	StatusCode int
	Success    int
	Failed     int
	Errors     []PointError
	RequestID  string
}

func (e *SendError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d points failed", e.Failed)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " with status: %d", e.StatusCode)
	}
	if e.Msg != "" {
		fmt.Fprintf(&b, ": %s", e.Msg)
	}
	for _, pe := range e.Errors {
		fmt.Fprintf(&b, "\n%s error occurred in the datapoint %s", pe.Message, string(pe.Datapoint))
	}
	return b.String()
}

// QueryError is returned when the query API responds with a non-success status.
type QueryError struct {
	StatusCode int
	Body       string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed with status %d: %s", e.StatusCode, e.Body)
}

func retryable(err error) bool {
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.StatusCode >= 500 && sendErr.StatusCode <= 599
	}
	var queryErr *QueryError
	if errors.As(err, &queryErr) {
		return queryErr.StatusCode >= 500 && queryErr.StatusCode <= 599
	}
	return false
}
