package errors

import "fmt"

// ValidationError indicates a malformed or incomplete notification payload.
// Nothing is persisted when one of these is returned.
type ValidationError struct {
	Err error
	Msg string
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("Validation Error. Msg: %s", e.Msg)
	}
	return fmt.Sprintf("Validation Error. Msg: %s, Err: %s", e.Msg, e.Err)
}

// NotificationNotFoundError indicates an unknown notificationId on a detail lookup.
type NotificationNotFoundError struct {
	Err            error
	NotificationID string
}

func (e *NotificationNotFoundError) Error() string {
	return fmt.Sprintf("no notification found for notificationId %s: %s", e.NotificationID, e.Err)
}

// DuplicateNotificationError indicates an idempotent re-ingestion of a
// notificationId that already exists. It is not a failure; callers surface it
// as a Duplicate result.
type DuplicateNotificationError struct {
	NotificationID string
}

func (e *DuplicateNotificationError) Error() string {
	return fmt.Sprintf("notification %s already ingested", e.NotificationID)
}

// StorageError indicates the durability layer is unavailable. Retriable.
type StorageError struct {
	Err error
	Op  string
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %s", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// TimeoutError indicates ingestion exceeded its deadline. Retriable by replay
// since ingestion is idempotent.
type TimeoutError struct {
	Err            error
	NotificationID string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("ingestion of %s exceeded deadline: %s", e.NotificationID, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}
