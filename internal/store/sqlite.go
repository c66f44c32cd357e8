package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"principales/internal/constants"
	"principales/internal/errors"
	"principales/internal/migrations"
	"principales/internal/models"
	"principales/internal/retry"
	"principales/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite implements MessageLog, ReportLog and StatusBoard on one database file
type SQLite struct {
	db         *sql.DB
	messageCap int
	reportCap  int
	backoff    *retry.Backoff
}

func NewSQLite(dbPath string, messageCap, reportCap int) (*SQLite, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, errors.NewConfigError("storage.sqlite_path", "invalid database path")
	}

	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, errors.NewConfigError("storage.sqlite_path", fmt.Sprintf("invalid database path: %v", err))
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), constants.DefaultDirectoryPermissions); err != nil {
		return nil, errors.NewStorageError("open", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, constants.DefaultFilePermissions)
	if err != nil {
		return nil, errors.NewStorageError("open", fmt.Errorf("failed to create database file: %w", err))
	}
	if err := file.Close(); err != nil {
		return nil, errors.NewStorageError("open", fmt.Errorf("failed to close database file: %w", err))
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, errors.NewStorageError("open", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, errors.NewStorageError("open", fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr))
		}
		return nil, errors.NewStorageError("open", fmt.Errorf("failed to ping database: %w", err))
	}

	scripts, err := migrations.All()
	if err != nil {
		_ = db.Close()
		return nil, errors.NewStorageError("migrate", err)
	}
	for _, script := range scripts {
		if _, err := db.Exec(script); err != nil {
			if closeErr := db.Close(); closeErr != nil {
				return nil, errors.NewStorageError("migrate", fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr))
			}
			return nil, errors.NewStorageError("migrate", fmt.Errorf("failed to initialize schema: %w", err))
		}
	}

	return &SQLite{
		db:         db,
		messageCap: messageCap,
		reportCap:  reportCap,
		backoff: retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond / 10,
			MaxDelay:     time.Second,
			Multiplier:   2,
			MaxAttempts:  constants.DefaultStoreRetryAttempts,
			Jitter:       true,
		}),
	}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// exec runs op, retrying while SQLite reports a transient failure
func (s *SQLite) exec(ctx context.Context, name string, op func() error) error {
	err := s.backoff.RetryWithPredicate(ctx, op, isRetryableDBError)
	if err == nil {
		return nil
	}
	if _, ok := errors.As(err); ok {
		return err
	}
	return errors.NewStorageError(name, err)
}

// withTx runs fn inside one transaction, committing on success
func (s *SQLite) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLite) Append(ctx context.Context, msg models.ChatMessage) error {
	return s.exec(ctx, "append message", func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			var replyID sql.NullInt64
			var replyFrom, replyText sql.NullString
			if msg.ReplyTo != nil {
				replyID = sql.NullInt64{Int64: int64(msg.ReplyTo.MessageID), Valid: true}
				replyFrom = sql.NullString{String: msg.ReplyTo.From, Valid: true}
				replyText = sql.NullString{String: msg.ReplyTo.Text, Valid: true}
			}

			_, err := tx.ExecContext(ctx, `
				INSERT INTO chat_messages (
					message_id, from_name, text, photo_url,
					reply_to_id, reply_to_from, reply_to_text, sent_at, is_bot
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				msg.MessageID, msg.From, msg.Text, msg.PhotoURL,
				replyID, replyFrom, replyText, msg.Timestamp.UTC().UnixNano(), msg.IsBot,
			)
			if err != nil {
				return fmt.Errorf("failed to save message: %w", err)
			}

			_, err = tx.ExecContext(ctx, `
				DELETE FROM chat_messages
				WHERE seq NOT IN (SELECT seq FROM chat_messages ORDER BY seq DESC LIMIT ?)`,
				s.messageCap,
			)
			if err != nil {
				return fmt.Errorf("failed to trim messages: %w", err)
			}
			return nil
		})
	})
}

func (s *SQLite) List(ctx context.Context) ([]models.ChatMessage, error) {
	return s.Since(ctx, time.Time{})
}

func (s *SQLite) Since(ctx context.Context, t time.Time) ([]models.ChatMessage, error) {
	var after int64 = -1 << 63
	if !t.IsZero() {
		after = t.UTC().UnixNano()
	}

	msgs := []models.ChatMessage{}
	err := s.exec(ctx, "list messages", func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT message_id, from_name, text, photo_url,
			       reply_to_id, reply_to_from, reply_to_text, sent_at, is_bot
			FROM chat_messages
			WHERE sent_at > ?
			ORDER BY seq ASC`, after)
		if err != nil {
			return err
		}
		defer rows.Close()

		out := []models.ChatMessage{}
		for rows.Next() {
			var m models.ChatMessage
			var photo sql.NullString
			var replyID sql.NullInt64
			var replyFrom, replyText sql.NullString
			var sentAt int64
			if err := rows.Scan(&m.MessageID, &m.From, &m.Text, &photo,
				&replyID, &replyFrom, &replyText, &sentAt, &m.IsBot); err != nil {
				return fmt.Errorf("failed to scan message: %w", err)
			}
			if photo.Valid {
				p := photo.String
				m.PhotoURL = &p
			}
			if replyID.Valid {
				m.ReplyTo = &models.ReplyRef{
					MessageID: int(replyID.Int64),
					From:      replyFrom.String,
					Text:      replyText.String,
				}
			}
			m.Timestamp = time.Unix(0, sentAt).UTC()
			out = append(out, m)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		msgs = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// Reports exposes the report half of the store as a ReportLog, since the
// message and report methods share names.
func (s *SQLite) Reports() ReportLog {
	return sqliteReports{s}
}

type sqliteReports struct{ s *SQLite }

func (r sqliteReports) Append(ctx context.Context, report models.FieldReport) error {
	if err := checkPrincipal(report.Principal); err != nil {
		return err
	}
	s := r.s
	return s.exec(ctx, "append report", func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO field_reports (id, principal, mensaje, estado, reported_at, user_name)
				VALUES (?, ?, ?, ?, ?, ?)`,
				report.ID, report.Principal, report.Mensaje, report.Estado,
				report.Timestamp.UTC().UnixNano(), report.User,
			)
			if err != nil {
				return fmt.Errorf("failed to save report: %w", err)
			}

			_, err = tx.ExecContext(ctx, `
				DELETE FROM field_reports
				WHERE seq NOT IN (SELECT seq FROM field_reports ORDER BY seq DESC LIMIT ?)`,
				s.reportCap,
			)
			if err != nil {
				return fmt.Errorf("failed to trim reports: %w", err)
			}
			return nil
		})
	})
}

func (r sqliteReports) List(ctx context.Context) ([]models.FieldReport, error) {
	s := r.s
	reports := []models.FieldReport{}
	err := s.exec(ctx, "list reports", func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, principal, mensaje, estado, reported_at, user_name
			FROM field_reports
			ORDER BY seq ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		out := []models.FieldReport{}
		for rows.Next() {
			var rep models.FieldReport
			var reportedAt int64
			if err := rows.Scan(&rep.ID, &rep.Principal, &rep.Mensaje, &rep.Estado, &reportedAt, &rep.User); err != nil {
				return fmt.Errorf("failed to scan report: %w", err)
			}
			rep.Timestamp = time.Unix(0, reportedAt).UTC()
			out = append(out, rep)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		reports = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reports, nil
}

func (r sqliteReports) Clear(ctx context.Context) (int, error) {
	s := r.s
	var cleared int64
	err := s.exec(ctx, "clear reports", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM field_reports`)
		if err != nil {
			return err
		}
		cleared, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(cleared), nil
}

func (s *SQLite) All(ctx context.Context) (map[int]models.RealTimeStatus, error) {
	board := make(map[int]models.RealTimeStatus)
	err := s.exec(ctx, "list status", func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT phone, status, mensaje, updated_by, updated_at
			FROM realtime_status`)
		if err != nil {
			return err
		}
		defer rows.Close()

		out := make(map[int]models.RealTimeStatus)
		for rows.Next() {
			st, err := scanStatus(rows)
			if err != nil {
				return err
			}
			out[st.Phone] = st
		}
		if err := rows.Err(); err != nil {
			return err
		}
		board = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return board, nil
}

func (s *SQLite) Get(ctx context.Context, phone int) (models.RealTimeStatus, bool, error) {
	if err := checkPrincipal(phone); err != nil {
		return models.RealTimeStatus{}, false, err
	}

	st := models.EmptyStatus(phone)
	found := false
	err := s.exec(ctx, "get status", func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT phone, status, mensaje, updated_by, updated_at
			FROM realtime_status
			WHERE phone = ?`, phone)
		got, err := scanStatus(row)
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		st, found = got, true
		return nil
	})
	if err != nil {
		return models.RealTimeStatus{}, false, err
	}
	return st, found, nil
}

func (s *SQLite) Set(ctx context.Context, status models.RealTimeStatus) error {
	if err := checkPrincipal(status.Phone); err != nil {
		return err
	}

	var updatedAt sql.NullInt64
	if status.Timestamp != nil {
		updatedAt = sql.NullInt64{Int64: status.Timestamp.UTC().UnixNano(), Valid: true}
	}

	return s.exec(ctx, "set status", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO realtime_status (phone, status, mensaje, updated_by, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(phone) DO UPDATE SET
				status = excluded.status,
				mensaje = excluded.mensaje,
				updated_by = excluded.updated_by,
				updated_at = excluded.updated_at`,
			status.Phone, string(status.Status), status.Mensaje, status.UpdatedBy, updatedAt,
		)
		return err
	})
}

func (s *SQLite) Delete(ctx context.Context, phone int) (bool, error) {
	if err := checkPrincipal(phone); err != nil {
		return false, err
	}

	var affected int64
	err := s.exec(ctx, "delete status", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM realtime_status WHERE phone = ?`, phone)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatus(row rowScanner) (models.RealTimeStatus, error) {
	var st models.RealTimeStatus
	var status string
	var updatedAt sql.NullInt64
	if err := row.Scan(&st.Phone, &status, &st.Mensaje, &st.UpdatedBy, &updatedAt); err != nil {
		return st, err
	}
	st.Status = models.Status(status)
	if updatedAt.Valid {
		ts := time.Unix(0, updatedAt.Int64).UTC()
		st.Timestamp = &ts
	}
	return st, nil
}

// isRetryableDBError determines if a database error is worth retrying
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}

	// Context timeout/cancellation are not retryable by us
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := err.Error()

	if strings.Contains(errStr, "database is locked") || strings.Contains(errStr, "database table is locked") {
		return true
	}

	// Disk I/O errors might be transient
	if strings.Contains(errStr, "disk I/O error") {
		return true
	}

	// Constraint and schema errors are not retryable, nor is anything else
	return false
}
