package store

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"principales/internal/constants"
	"principales/internal/errors"
	"principales/internal/models"

	"github.com/sirupsen/logrus"
)

// MessageLog is the bounded chat history shared by the poller, the gateway and the web client
type MessageLog interface {
	Append(ctx context.Context, msg models.ChatMessage) error
	List(ctx context.Context) ([]models.ChatMessage, error)
	// Since returns the messages stored with a timestamp strictly after t.
	// A zero t returns everything.
	Since(ctx context.Context, t time.Time) ([]models.ChatMessage, error)
}

// ReportLog is the bounded list of field reports raised with /reporte
type ReportLog interface {
	Append(ctx context.Context, report models.FieldReport) error
	List(ctx context.Context) ([]models.FieldReport, error)
	Clear(ctx context.Context) (int, error)
}

// StatusBoard is the sparse real-time status map. A principal without an
// entry is in status none.
type StatusBoard interface {
	Get(ctx context.Context, phone int) (models.RealTimeStatus, bool, error)
	All(ctx context.Context) (map[int]models.RealTimeStatus, error)
	Set(ctx context.Context, status models.RealTimeStatus) error
	Delete(ctx context.Context, phone int) (bool, error)
}

// Store bundles the three stores of one backend
type Store struct {
	Messages MessageLog
	Reports  ReportLog
	Status   StatusBoard
	closer   io.Closer
}

// Close releases the backend. Safe to call on JSON stores.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Open builds the store selected by cfg.Driver
func Open(cfg models.StorageConfig, logger *logrus.Logger) (*Store, error) {
	messageCap := cfg.MessageCap
	if messageCap <= 0 {
		messageCap = constants.DefaultMessageCap
	}
	reportCap := cfg.ReportCap
	if reportCap <= 0 {
		reportCap = constants.DefaultReportCap
	}

	switch cfg.Driver {
	case "", constants.DefaultStorageDriver:
		dir := cfg.DataDir
		if dir == "" {
			dir = constants.DefaultDataDir
		}
		return &Store{
			Messages: NewJSONMessageLog(filepath.Join(dir, constants.MessagesFileName), messageCap, logger),
			Reports:  NewJSONReportLog(filepath.Join(dir, constants.ReportsFileName), reportCap, logger),
			Status:   NewJSONStatusBoard(filepath.Join(dir, constants.StatusBoardFileName), logger),
		}, nil
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = constants.DefaultSQLitePath
		}
		db, err := NewSQLite(path, messageCap, reportCap)
		if err != nil {
			return nil, err
		}
		return &Store{Messages: db, Reports: db.Reports(), Status: db, closer: db}, nil
	default:
		return nil, errors.NewConfigError("storage.driver", fmt.Sprintf("unknown storage driver %q", cfg.Driver))
	}
}

// ValidPrincipal reports whether n is a principal number
func ValidPrincipal(n int) bool {
	return n >= constants.MinPrincipal && n <= constants.MaxPrincipal
}

func checkPrincipal(n int) error {
	if !ValidPrincipal(n) {
		return errors.NewValidationError("phone",
			fmt.Sprintf("principal must be between %d and %d", constants.MinPrincipal, constants.MaxPrincipal))
	}
	return nil
}

// FullBoard expands a sparse board into all principals, filling the gaps with status none
func FullBoard(sparse map[int]models.RealTimeStatus) map[int]models.RealTimeStatus {
	full := make(map[int]models.RealTimeStatus, constants.MaxPrincipal)
	for n := constants.MinPrincipal; n <= constants.MaxPrincipal; n++ {
		if st, ok := sparse[n]; ok {
			full[n] = st
			continue
		}
		full[n] = models.EmptyStatus(n)
	}
	return full
}

// trimMessages keeps the newest max entries
func trimMessages(msgs []models.ChatMessage, max int) []models.ChatMessage {
	if len(msgs) <= max {
		return msgs
	}
	return append([]models.ChatMessage(nil), msgs[len(msgs)-max:]...)
}

func trimReports(reports []models.FieldReport, max int) []models.FieldReport {
	if len(reports) <= max {
		return reports
	}
	return append([]models.FieldReport(nil), reports[len(reports)-max:]...)
}

func filterSince(msgs []models.ChatMessage, t time.Time) []models.ChatMessage {
	if t.IsZero() {
		return msgs
	}
	out := make([]models.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Timestamp.After(t) {
			out = append(out, m)
		}
	}
	return out
}
