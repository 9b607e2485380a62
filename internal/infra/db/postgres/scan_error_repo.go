package postgres

import (
    "context"
    "database/sql"
    "encoding/json"
    "strings"
    "time"

    domain "github.com/bryanwahyu/labelscan/internal/domain/scanerrors"
)

type ScanErrorRepository struct {
    db *sql.DB
}

func NewScanErrorRepository(db *sql.DB) *ScanErrorRepository { return &ScanErrorRepository{db: db} }

// Save inserts a failure record and fills in its generated id
func (r *ScanErrorRepository) Save(ctx context.Context, e *domain.ScanError) error {
    const q = `
INSERT INTO scan_failures
  (session_id, run_id, stage, kind, message, details_json, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id;
`
    created := e.CreatedAt
    if created.IsZero() {
        created = time.Now()
    }
    return r.db.QueryRowContext(ctx, q,
        dashIfEmpty(e.SessionID), int64(e.RunID), dashIfEmpty(e.Stage), dashIfEmpty(e.Kind),
        dashIfEmpty(e.Message), detailsJSON(e.DetailsJSON), created,
    ).Scan(&e.ID)
}

func (r *ScanErrorRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*domain.ScanError, error) {
    if limit <= 0 { limit = 20 }
    const q = `
SELECT id, session_id, run_id, stage, kind, message, details_json, created_at
FROM scan_failures
WHERE session_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2;`
    rows, err := r.db.QueryContext(ctx, q, sessionID, limit)
    if err != nil { return nil, err }
    defer rows.Close()

    var out []*domain.ScanError
    for rows.Next() {
        var e domain.ScanError
        var run int64
        if err := rows.Scan(&e.ID, &e.SessionID, &run, &e.Stage, &e.Kind, &e.Message, &e.DetailsJSON, &e.CreatedAt); err != nil {
            return nil, err
        }
        e.RunID = uint64(run)
        out = append(out, &e)
    }
    return out, rows.Err()
}

func dashIfEmpty(s string) string { if strings.TrimSpace(s) == "" { return "-" }; return s }

// detailsJSON keeps the JSONB column valid: invalid input is wrapped as {"raw": ...}
func detailsJSON(s string) string {
    if strings.TrimSpace(s) == "" {
        return "{}"
    }
    var js any
    if json.Unmarshal([]byte(s), &js) != nil {
        b, _ := json.Marshal(map[string]string{"raw": s})
        return string(b)
    }
    return s
}
