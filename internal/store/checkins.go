package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"principales/internal/errors"
	"principales/internal/models"
	"principales/internal/security"

	"github.com/sirupsen/logrus"
)

// DateLayout is the key format of the check-in grid
const DateLayout = "2006-01-02"

// CheckinReader reads the dated check-in grid the web dashboard writes.
// The file belongs to the dashboard; this side never writes it.
type CheckinReader struct {
	path   string
	logger *logrus.Logger
	now    func() time.Time
}

func NewCheckinReader(path string, logger *logrus.Logger) *CheckinReader {
	return &CheckinReader{path: path, logger: logger, now: time.Now}
}

// Today is the current date in UTC, in grid key format
func (r *CheckinReader) Today() string {
	return r.now().UTC().Format(DateLayout)
}

// Day returns the entries recorded for date in file order. Keys starting
// with "_" hold metadata such as notes and are skipped. A date with no
// entries yields an empty slice; a missing or unreadable file is an error.
func (r *CheckinReader) Day(ctx context.Context, date string) ([]models.CheckinEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := security.ValidateFilePath(r.path); err != nil {
		return nil, errors.NewStorageError("read checkins", err)
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, errors.NewStorageError("read checkins", err).WithContext("file_path", r.path)
	}

	var grid map[string]json.RawMessage
	if err := json.Unmarshal(data, &grid); err != nil {
		return nil, errors.NewStorageError("parse checkins", err).WithContext("file_path", r.path)
	}

	raw, ok := grid[date]
	if !ok {
		return []models.CheckinEntry{}, nil
	}

	entries, err := decodeDay(raw)
	if err != nil {
		return nil, errors.NewStorageError("parse checkins", err).
			WithContext("file_path", r.path).
			WithContext("date", date)
	}
	return entries, nil
}

// TodayEntries returns the entries of the current UTC date
func (r *CheckinReader) TodayEntries(ctx context.Context) ([]models.CheckinEntry, error) {
	return r.Day(ctx, r.Today())
}

// StatusFor returns the status of the first entry for principal today
func (r *CheckinReader) StatusFor(ctx context.Context, principal int) (models.Status, bool, error) {
	entries, err := r.TodayEntries(ctx)
	if err != nil {
		return "", false, err
	}
	for _, e := range entries {
		if int(e.Phone) == principal {
			return e.Status, true, nil
		}
	}
	return "", false, nil
}

// decodeDay walks one day object keeping key order
func decodeDay(raw json.RawMessage) ([]models.CheckinEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("day must be an object")
	}

	entries := []models.CheckinEntry{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		if strings.HasPrefix(key, "_") {
			continue
		}

		var entry models.CheckinEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			// one bad cell should not hide the rest of the day
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// CheckinCounts is the per-status tally of one day
type CheckinCounts map[models.Status]int

// Counts tallies the checked statuses. Entries in status none or an
// unknown status are not counted.
func Counts(entries []models.CheckinEntry) CheckinCounts {
	counts := make(CheckinCounts, len(models.CheckedStatuses))
	for _, st := range models.CheckedStatuses {
		counts[st] = 0
	}
	for _, e := range entries {
		if _, ok := counts[e.Status]; ok {
			counts[e.Status]++
		}
	}
	return counts
}

func (c CheckinCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}
