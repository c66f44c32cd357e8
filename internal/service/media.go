package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"principales/internal/constants"
	"principales/internal/errors"
	"principales/internal/metrics"
	"principales/internal/security"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// FileDownloader fetches a bot API file to a local path
type FileDownloader interface {
	DownloadFile(ctx context.Context, fileID, destPath string) (int64, error)
}

// PhotoSaver stores chat photos in the uploads dir served under /uploads/
type PhotoSaver struct {
	files  FileDownloader
	dir    string
	logger *logrus.Logger
	now    func() time.Time
}

func NewPhotoSaver(files FileDownloader, uploadsDir string, logger *logrus.Logger) *PhotoSaver {
	if uploadsDir == "" {
		uploadsDir = constants.DefaultUploadsDir
	}
	return &PhotoSaver{files: files, dir: uploadsDir, logger: logger, now: time.Now}
}

// largestPhoto picks the biggest resolution of a photo
func largestPhoto(sizes []tgbotapi.PhotoSize) (tgbotapi.PhotoSize, bool) {
	if len(sizes) == 0 {
		return tgbotapi.PhotoSize{}, false
	}
	best := sizes[len(sizes)-1]
	for _, s := range sizes {
		if s.Width*s.Height > best.Width*best.Height {
			best = s
		}
	}
	return best, true
}

// Save downloads the largest size of a photo and returns its public URL
func (p *PhotoSaver) Save(ctx context.Context, sizes []tgbotapi.PhotoSize) (string, error) {
	photo, ok := largestPhoto(sizes)
	if !ok {
		return "", errors.NewValidationError("photo", "photo has no sizes")
	}

	name := fmt.Sprintf("photo_%d_%s.%s", p.now().UnixMilli(), security.SafeFileName(photo.FileID), constants.DefaultPhotoExtension)
	if err := security.ValidateFilePathWithBase(name, p.dir); err != nil {
		return "", errors.NewValidationError("photo", err.Error())
	}

	if err := os.MkdirAll(p.dir, constants.DefaultDirectoryPermissions); err != nil {
		return "", errors.NewStorageError("create uploads dir", err)
	}

	size, err := p.files.DownloadFile(ctx, photo.FileID, filepath.Join(p.dir, name))
	if err != nil {
		metrics.IncrementCounter("telegram_photo_download_errors_total", nil, "Photo downloads that failed")
		return "", err
	}

	metrics.IncrementCounter("telegram_photo_downloads_total", nil, "Photos downloaded to uploads")
	p.logger.WithFields(logrus.Fields{
		LogFieldFileName: name,
		LogFieldFileSize: humanize.Bytes(uint64(size)),
	}).Debug("Photo downloaded")

	return constants.UploadsURLPrefix + name, nil
}

// UploadJanitor deletes regular files older than a cutoff from the given dirs
type UploadJanitor struct {
	dirs   []string
	logger *logrus.Logger
}

func NewUploadJanitor(logger *logrus.Logger, dirs ...string) *UploadJanitor {
	return &UploadJanitor{dirs: dirs, logger: logger}
}

// Cleanup returns how many files were removed. A missing dir is skipped.
func (j *UploadJanitor) Cleanup(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	for _, dir := range j.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, errors.NewStorageError("read uploads dir", err)
		}

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			if !entry.Type().IsRegular() {
				continue
			}
			info, err := entry.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}

			path := filepath.Join(dir, entry.Name())
			if err := os.Remove(path); err != nil {
				j.logger.WithError(err).WithField(LogFieldFilePath, path).Warn("Failed to remove old upload")
				continue
			}
			removed++
		}
	}
	return removed, nil
}
