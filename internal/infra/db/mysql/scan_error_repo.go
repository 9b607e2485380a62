package mysql

import (
    "context"
    "database/sql"
    "time"

    domain "github.com/bryanwahyu/labelscan/internal/domain/scanerrors"
)

type ScanErrorRepository struct {
    db *sql.DB
}

func NewScanErrorRepository(db *sql.DB) *ScanErrorRepository { return &ScanErrorRepository{db: db} }

func (r *ScanErrorRepository) Save(ctx context.Context, e *domain.ScanError) error {
    const q = `
INSERT INTO scan_failures
  (session_id, run_id, stage, kind, message, details_json, created_at)
VALUES (?,?,?,?,?,?,?)
`
    created := e.CreatedAt
    if created.IsZero() {
        created = time.Now()
    }
    res, err := r.db.ExecContext(ctx, q,
        stringOrDash(e.SessionID), e.RunID, stringOrDash(e.Stage), stringOrDash(e.Kind),
        stringOrDash(e.Message), jsonOrWrapped(e.DetailsJSON), created)
    if err != nil {
        return err
    }
    if id, err := res.LastInsertId(); err == nil {
        e.ID = id
    }
    return nil
}

func (r *ScanErrorRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*domain.ScanError, error) {
    if limit <= 0 {
        limit = 20
    }
    const q = `
SELECT id, session_id, run_id, stage, kind, message, details_json, created_at
FROM scan_failures
WHERE session_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?;`
    rows, err := r.db.QueryContext(ctx, q, sessionID, limit)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    var out []*domain.ScanError
    for rows.Next() {
        var e domain.ScanError
        if err := rows.Scan(&e.ID, &e.SessionID, &e.RunID, &e.Stage, &e.Kind, &e.Message, &e.DetailsJSON, &e.CreatedAt); err != nil {
            return nil, err
        }
        out = append(out, &e)
    }
    return out, rows.Err()
}
