package executor

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/alpacahq/shmstore/executor/persist"
	"github.com/alpacahq/shmstore/executor/shm"
	"github.com/alpacahq/shmstore/utils/io"
)

// Errors surfaced by tables. Most originate in the sub packages and are
// repeated here so callers only import executor; classify with errors.Is.
var (
	ErrSchema            = io.ErrSchema
	ErrMalformedHeader   = io.ErrMalformedHeader
	ErrSegmentNotFound   = shm.ErrSegmentNotFound
	ErrSegmentExists     = shm.ErrSegmentExists
	ErrLockTimeout       = shm.ErrLockTimeout
	ErrProtocolViolation = shm.ErrProtocolViolation
	ErrClosed            = shm.ErrClosed
	ErrTableNotFound     = persist.ErrTableNotFound
	ErrCorruption        = persist.ErrCorruption
	ErrSync              = persist.ErrSync

	// ErrTableExists is returned by Create when the table was persisted
	// before.
	ErrTableExists = errors.New("table already exists")
	// ErrDuplicateSubscription is returned by a second Subscribe on the
	// same table handle.
	ErrDuplicateSubscription = errors.New("table is already subscribed")
)

type RowLengthError struct {
	Got, Want int
}

func (e RowLengthError) Error() string {
	return fmt.Sprintf("row of %d bytes, table rows are %d bytes", e.Got, e.Want)
}
