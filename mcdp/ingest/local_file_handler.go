package ingest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dimchansky/utfbom"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// LocalFileHandler manages notification files from local directories.
type LocalFileHandler struct {
	Logger                 logrus.FieldLogger
	PendingDeletionDir     string
	FileArchiveThresholdHr uint
}

func (handler *LocalFileHandler) LoadNotificationFiles(path string) (fileList *[]*FilenameMetadata, skipped int, err error) {
	var result []*FilenameMetadata
	err = filepath.Walk(path, handler.getNotificationFileMetadata(&result, &skipped))
	return &result, skipped, err
}

func (handler *LocalFileHandler) getNotificationFileMetadata(fileList *[]*FilenameMetadata, skipped *int) filepath.WalkFunc {
	return func(path string, info os.FileInfo, err error) error {
		if err != nil {
			var fileName = "nil"
			if info != nil {
				fileName = info.Name()
			}
			err = errors.Wrapf(err, "error in checking notification file: %s,", fileName)
			handler.Logger.Error(err)
			return err
		}
		// Directories are not notification files
		if info.IsDir() {
			return nil
		}

		metadata, err := ParseMetadata(info.Name())
		metadata.FilePath = path
		metadata.DeliveryDate = info.ModTime()
		if err != nil {
			// skipping files with a bad name.  An unknown file in this dir isn't a blocker
			handler.Logger.Errorf("Unknown file found: %s", metadata)
			*skipped = *skipped + 1

			deleteThreshold := time.Hour * time.Duration(handler.FileArchiveThresholdHr)
			if metadata.DeliveryDate.Add(deleteThreshold).Before(time.Now()) {
				newpath := fmt.Sprintf("%s/%s", handler.PendingDeletionDir, info.Name())
				err = os.Rename(metadata.FilePath, newpath)
				if err != nil {
					err = errors.Wrapf(err, "error moving unknown file %s to pending deletion dir", metadata)
					handler.Logger.Error(err)
					return err
				}
			}
			return nil
		}

		*fileList = append(*fileList, &metadata)
		return nil
	}
}

func (handler *LocalFileHandler) OpenFile(metadata *FilenameMetadata) (*bufio.Scanner, func(), error) {
	f, err := os.Open(metadata.FilePath)
	if err != nil {
		err = errors.Wrapf(err, "could not read file %s", metadata)
		handler.Logger.Error(err)
		return nil, nil, err
	}

	// Trim the Byte Order Marker if it's present
	// See: https://github.com/golang/go/issues/33887
	sc := bufio.NewScanner(utfbom.SkipOnly(f))
	return sc, func() {
		if err := f.Close(); err != nil {
			handler.Logger.Error(err)
		}
	}, nil
}

func (handler *LocalFileHandler) CleanupNotificationFiles(fileList []*FilenameMetadata) error {
	errCount := 0
	for _, file := range fileList {
		handler.Logger.Infof("Cleaning up file %s", file)
		newpath := fmt.Sprintf("%s/%s", handler.PendingDeletionDir, file.Name)
		if !file.Imported {
			// check the timestamp on the failed files
			elapsed := time.Since(file.DeliveryDate).Hours()

			if int(elapsed) > int(handler.FileArchiveThresholdHr) {
				err := os.Rename(file.FilePath, newpath)
				if err != nil {
					errCount++
					handler.Logger.Errorf("File %s failed to clean up properly: %v", file, err)
				} else {
					handler.Logger.Infof("File %s never ingested, moved to the pending deletion dir", file)
				}
			}
		} else {
			// move the successful files to the deletion dir
			err := os.Rename(file.FilePath, newpath)
			if err != nil {
				errCount++
				handler.Logger.Errorf("File %s failed to clean up properly: %v", file, err)
			} else {
				handler.Logger.Infof("File %s successfully ingested, moved to the pending deletion dir", file)
			}
		}
	}
	if errCount > 0 {
		return fmt.Errorf("%d files could not be cleaned up", errCount)
	}
	return nil
}
