package runlog

import (
	"time"

	"github.com/goccy/go-json"
)

// timestampLayout renders row timestamps in UTC with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// Fields is the caller-supplied part of a Row. Every field is optional.
type Fields struct {
	Country        string
	URL            string
	Status         int
	EdgeCache      string
	SecondaryCache string
	TraceID        string
	ResponseTimeMs int64
	Error          bool
	Message        string
}

// Row is one audit record. RunID and StartedAt come from the run; FinishedAt
// stays zero until the run is finalized.
type Row struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Fields
}

// MarshalJSON encodes the row as the positional tuple the sheet expects:
// run id, start, finish, country, url, status, edge cache, secondary cache,
// trace id, response time ms, error flag, message.
func (r Row) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Tuple())
}

// Tuple returns the positional form of the row.
func (r Row) Tuple() []any {
	return []any{
		r.RunID,
		formatTime(r.StartedAt),
		formatTime(r.FinishedAt),
		r.Country,
		r.URL,
		r.Status,
		r.EdgeCache,
		r.SecondaryCache,
		r.TraceID,
		r.ResponseTimeMs,
		r.Error,
		r.Message,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timestampLayout)
}

// Batch is the payload delivered to sinks on flush.
type Batch struct {
	SheetName string `json:"sheetName"`
	Rows      []Row  `json:"rows"`
}
