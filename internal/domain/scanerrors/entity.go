package scanerrors

import "time"

// ScanError is a diagnostic record of a failed pipeline run. It is not scan
// history: only failures are kept, and only for operators.
type ScanError struct {
    ID          int64     `json:"id"`
    SessionID   string    `json:"session_id"`
    RunID       uint64    `json:"run_id"`
    Stage       string    `json:"stage"` // capture | ocr | analysis | sanitize | map
    Kind        string    `json:"kind"`
    Message     string    `json:"message"`
    DetailsJSON string    `json:"details_json,omitempty"` // raw JSON string
    CreatedAt   time.Time `json:"created_at"`
}
