package ingest

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// ImportNotificationFiles loads every notification batch file the handler
// finds under path and ingests each payload line through the importer. Batch
// files hold one JSON notification per line. A file counts as imported only
// when every one of its payloads ingested cleanly; duplicates do not fail a
// file.
func (im *Importer) ImportNotificationFiles(ctx context.Context, handler NotificationFileHandler, path string) (success, failure, skipped int, err error) {
	fileList, skipped, err := handler.LoadNotificationFiles(path)
	if err != nil {
		return 0, 0, 0, err
	}

	if len(*fileList) == 0 {
		im.logger.Info("Failed to find any notification files in directory")
		return 0, 0, skipped, nil
	}

	for _, metadata := range *fileList {
		if err = im.importFile(ctx, handler, metadata); err != nil {
			im.logger.Errorf("Failed to import notification file: %s: %s", metadata, err)
			failure++
		} else {
			metadata.Imported = true
			success++
		}
	}

	if err = handler.CleanupNotificationFiles(*fileList); err != nil {
		im.logger.Error(err)
	}

	if failure > 0 {
		err = errors.New("one or more notification files failed to import correctly")
		im.logger.Error(err)
	} else {
		err = nil
	}
	return success, failure, skipped, err
}

func (im *Importer) importFile(ctx context.Context, handler NotificationFileHandler, metadata *FilenameMetadata) error {
	im.logger.Infof("Importing notification file %s...", metadata)

	sc, closeFile, err := handler.OpenFile(metadata)
	if err != nil {
		return err
	}
	defer closeFile()

	importedCount := 0
	for sc.Scan() {
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}

		var payload FileNotification
		if err := json.Unmarshal(b, &payload); err != nil {
			return errors.Wrapf(err, "could not parse notification record from file: %s", metadata)
		}

		if _, err := im.Ingest(ctx, payload); err != nil {
			return errors.Wrapf(err, "could not ingest notification %s from file: %s", payload.NotificationID, metadata)
		}
		importedCount++
	}
	if err := sc.Err(); err != nil {
		return errors.Wrapf(err, "error reading file: %s", metadata)
	}

	im.logger.Infof("Successfully imported %d records from notification file %s.", importedCount, metadata)
	return nil
}
