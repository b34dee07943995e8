package delivery

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyInProgress indicates a duplicate commit/publish attempt for
	// content that already has an active upload. The second attempt is
	// rejected rather than merged or queued.
	ErrAlreadyInProgress = errors.New("upload already in progress")

	// ErrUnknownReference indicates an operation referencing a manifest,
	// notice or distribution not known locally. Surfaced explicitly, never
	// as a silent no-op.
	ErrUnknownReference = errors.New("unknown reference")

	// ErrNoRecipients indicates a send attempt with no valid recipients
	// after filtering out the local agent.
	ErrNoRecipients = errors.New("no valid recipients")

	// ErrPrivateContent indicates a publish attempt for content that is
	// already committed privately.
	ErrPrivateContent = errors.New("content already committed privately")

	// ErrContentMismatch indicates fetched content whose digest does not
	// match the manifest's content hash.
	ErrContentMismatch = errors.New("fetched content does not match manifest hash")
)

// backendErr wraps a backend rejection with the failed operation name. No
// automatic retry is attempted; local state is left unchanged for a
// caller-directed retry.
func backendErr(op string, err error) error {
	return fmt.Errorf("backend rejected %s: %w", op, err)
}
