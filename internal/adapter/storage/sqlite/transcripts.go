package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bnema/waveshift/internal/domain"
)

// SaveTranscript replaces any stored transcript with the same ID.
func (s *Store) SaveTranscript(ctx context.Context, tr *domain.Transcript) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transcripts WHERE id = ?`, tr.ID); err != nil {
		return fmt.Errorf("replace transcript: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transcripts (id, task_id, segment_count, created_at) VALUES (?, ?, ?, ?)`,
		tr.ID, tr.TaskID, tr.SegmentCount(), formatTime(tr.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO transcript_segments
		(transcript_id, sequence, start_seconds, end_seconds, speaker, original, translation)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare segment insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, seg := range tr.Segments {
		if _, err := stmt.ExecContext(ctx, tr.ID, seg.Sequence, seg.Start, seg.End, seg.Speaker, seg.Original, seg.Translation); err != nil {
			return fmt.Errorf("insert segment %d: %w", seg.Sequence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transcript: %w", err)
	}
	return nil
}

func (s *Store) GetTranscript(ctx context.Context, id string) (*domain.Transcript, error) {
	var (
		tr        domain.Transcript
		count     int
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, task_id, segment_count, created_at FROM transcripts WHERE id = ?`, id,
	).Scan(&tr.ID, &tr.TaskID, &count, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundf("transcript %s not found", id)
		}
		return nil, fmt.Errorf("get transcript: %w", err)
	}
	if tr.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT sequence, start_seconds, end_seconds, speaker, original, translation
		FROM transcript_segments WHERE transcript_id = ? ORDER BY sequence`, id)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tr.Segments = make([]domain.Segment, 0, count)
	for rows.Next() {
		var seg domain.Segment
		if err := rows.Scan(&seg.Sequence, &seg.Start, &seg.End, &seg.Speaker, &seg.Original, &seg.Translation); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		tr.Segments = append(tr.Segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segments: %w", err)
	}
	return &tr, nil
}
