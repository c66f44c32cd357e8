package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"principales/internal/constants"
	"principales/internal/errors"
	"principales/internal/models"
	"principales/internal/security"

	"github.com/sirupsen/logrus"
)

// jsonFile is one whole-file JSON document. Every write rewrites the file
// through a temp file and a rename; the mutex serialises read-modify-write
// cycles inside this process only.
type jsonFile[T any] struct {
	path   string
	mu     sync.Mutex
	logger *logrus.Logger
}

// load returns the zero value when the file is missing or cannot be parsed
func (f *jsonFile[T]) load() (T, error) {
	var v T
	if err := security.ValidateFilePath(f.path); err != nil {
		return v, errors.NewStorageError("read", err).WithContext("file_path", f.path)
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return v, nil
		}
		return v, errors.NewStorageError("read", err).WithContext("file_path", f.path)
	}
	if len(data) == 0 {
		return v, nil
	}

	if err := json.Unmarshal(data, &v); err != nil {
		f.logger.WithFields(logrus.Fields{
			"file_path": f.path,
			"error":     err.Error(),
		}).Warn("Store file is corrupt, treating it as empty")
		var zero T
		return zero, nil
	}
	return v, nil
}

func (f *jsonFile[T]) save(v T) error {
	if err := security.ValidateFilePath(f.path); err != nil {
		return errors.NewStorageError("write", err).WithContext("file_path", f.path)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.NewStorageError("encode", err).WithContext("file_path", f.path)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, constants.DefaultDirectoryPermissions); err != nil {
		return errors.NewStorageError("write", err).WithContext("file_path", f.path)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return errors.NewStorageError("write", err).WithContext("file_path", f.path)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.NewStorageError("write", err).WithContext("file_path", f.path)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.NewStorageError("write", err).WithContext("file_path", f.path)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return errors.NewStorageError("write", err).WithContext("file_path", f.path)
	}
	return nil
}

func (f *jsonFile[T]) read() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

// update runs one read-modify-write cycle under the lock
func (f *jsonFile[T]) update(fn func(T) T) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, err := f.load()
	if err != nil {
		return err
	}
	return f.save(fn(v))
}

// JSONMessageLog keeps the chat history in messages.json
type JSONMessageLog struct {
	file *jsonFile[[]models.ChatMessage]
	max  int
}

func NewJSONMessageLog(path string, max int, logger *logrus.Logger) *JSONMessageLog {
	return &JSONMessageLog{
		file: &jsonFile[[]models.ChatMessage]{path: path, logger: logger},
		max:  max,
	}
}

func (l *JSONMessageLog) Append(ctx context.Context, msg models.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.file.update(func(msgs []models.ChatMessage) []models.ChatMessage {
		return trimMessages(append(msgs, msg), l.max)
	})
}

func (l *JSONMessageLog) List(ctx context.Context) ([]models.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msgs, err := l.file.read()
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	return msgs, nil
}

func (l *JSONMessageLog) Since(ctx context.Context, t time.Time) ([]models.ChatMessage, error) {
	msgs, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	return filterSince(msgs, t), nil
}

// JSONReportLog keeps field reports in reportes.json
type JSONReportLog struct {
	file *jsonFile[[]models.FieldReport]
	max  int
}

func NewJSONReportLog(path string, max int, logger *logrus.Logger) *JSONReportLog {
	return &JSONReportLog{
		file: &jsonFile[[]models.FieldReport]{path: path, logger: logger},
		max:  max,
	}
}

func (l *JSONReportLog) Append(ctx context.Context, report models.FieldReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkPrincipal(report.Principal); err != nil {
		return err
	}
	return l.file.update(func(reports []models.FieldReport) []models.FieldReport {
		return trimReports(append(reports, report), l.max)
	})
}

func (l *JSONReportLog) List(ctx context.Context) ([]models.FieldReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reports, err := l.file.read()
	if err != nil {
		return nil, err
	}
	if reports == nil {
		reports = []models.FieldReport{}
	}
	return reports, nil
}

func (l *JSONReportLog) Clear(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var cleared int
	err := l.file.update(func(reports []models.FieldReport) []models.FieldReport {
		cleared = len(reports)
		return []models.FieldReport{}
	})
	if err != nil {
		return 0, err
	}
	return cleared, nil
}

// JSONStatusBoard keeps the real-time board in tiempo-real.json, an object
// keyed by the principal number.
type JSONStatusBoard struct {
	file   *jsonFile[map[string]models.RealTimeStatus]
	logger *logrus.Logger
}

func NewJSONStatusBoard(path string, logger *logrus.Logger) *JSONStatusBoard {
	return &JSONStatusBoard{
		file:   &jsonFile[map[string]models.RealTimeStatus]{path: path, logger: logger},
		logger: logger,
	}
}

func (b *JSONStatusBoard) All(ctx context.Context) (map[int]models.RealTimeStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := b.file.read()
	if err != nil {
		return nil, err
	}

	board := make(map[int]models.RealTimeStatus, len(raw))
	for key, st := range raw {
		phone, err := strconv.Atoi(key)
		if err != nil || !ValidPrincipal(phone) {
			b.logger.WithField("key", key).Warn("Ignoring real-time entry with invalid principal")
			continue
		}
		st.Phone = phone
		board[phone] = st
	}
	return board, nil
}

func (b *JSONStatusBoard) Get(ctx context.Context, phone int) (models.RealTimeStatus, bool, error) {
	if err := checkPrincipal(phone); err != nil {
		return models.RealTimeStatus{}, false, err
	}
	board, err := b.All(ctx)
	if err != nil {
		return models.RealTimeStatus{}, false, err
	}
	st, ok := board[phone]
	if !ok {
		return models.EmptyStatus(phone), false, nil
	}
	return st, true, nil
}

func (b *JSONStatusBoard) Set(ctx context.Context, status models.RealTimeStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkPrincipal(status.Phone); err != nil {
		return err
	}
	return b.file.update(func(raw map[string]models.RealTimeStatus) map[string]models.RealTimeStatus {
		if raw == nil {
			raw = make(map[string]models.RealTimeStatus)
		}
		raw[strconv.Itoa(status.Phone)] = status
		return raw
	})
}

func (b *JSONStatusBoard) Delete(ctx context.Context, phone int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := checkPrincipal(phone); err != nil {
		return false, err
	}
	var existed bool
	err := b.file.update(func(raw map[string]models.RealTimeStatus) map[string]models.RealTimeStatus {
		if raw == nil {
			raw = make(map[string]models.RealTimeStatus)
		}
		key := strconv.Itoa(phone)
		_, existed = raw[key]
		delete(raw, key)
		return raw
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}
