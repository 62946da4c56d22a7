package ingest

import (
	"bufio"
	"fmt"
	"regexp"
	"time"

	"github.com/pkg/errors"
)

// NotificationFileHandler loads batched notification files from a source and
// can optionally clean them up afterwards. Implementations exist for local
// directories and AWS S3.
type NotificationFileHandler interface {
	// LoadNotificationFiles returns metadata parsed from valid filenames under
	// path, plus the number of files skipped due to unknown filenames.
	LoadNotificationFiles(path string) (fileList *[]*FilenameMetadata, skipped int, err error)
	// CleanupNotificationFiles disposes of files that were successfully
	// imported and handles the ones that failed.
	CleanupNotificationFiles(fileList []*FilenameMetadata) error
	// OpenFile opens the file identified by the metadata struct and returns a
	// line scanner plus a close function.
	OpenFile(metadata *FilenameMetadata) (*bufio.Scanner, func(), error)
}

// FilenameMetadata is information parsed from a notification filename.
type FilenameMetadata struct {
	Name         string
	Timestamp    time.Time
	FilePath     string
	Imported     bool
	DeliveryDate time.Time
}

func (m FilenameMetadata) String() string {
	if m.FilePath != "" {
		return m.FilePath
	}
	return m.Name
}

// Notification batch files follow the Medicare EFT naming convention:
// P#EFT.ON.MCDP.NOTIF.Dyymmdd.Thhmmsst with P = prod, T = test.
var filenameRegexp = regexp.MustCompile(`((P|T)\#EFT)\.ON\.MCDP\.NOTIF\.(D\d{6}\.T\d{6})\d`)

// ParseMetadata extracts the batch timestamp from a notification filename.
func ParseMetadata(filename string) (FilenameMetadata, error) {
	var metadata FilenameMetadata
	matches := filenameRegexp.FindStringSubmatch(filename)
	if len(matches) < 4 {
		return metadata, fmt.Errorf("invalid filename for file: %s", filename)
	}

	filenameDate := matches[3]
	t, err := time.Parse("D060102.T150405", filenameDate)
	if err != nil || t.IsZero() {
		return metadata, errors.Wrapf(err, "failed to parse date '%s' from file: %s", filenameDate, filename)
	}

	metadata.Timestamp = t
	metadata.Name = matches[0]

	return metadata, nil
}
