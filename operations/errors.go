package operations

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ptgott/hbase-template/storage"
)

var (
	// ErrInvalidArgument is returned when a required argument is missing or
	// blank. Nothing is sent to the store.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrTableNotFound is returned by writes to a table that doesn't exist.
	ErrTableNotFound = fmt.Errorf("%w: table does not exist", ErrInvalidArgument)
	// ErrTableExists is returned when creating a table that already exists.
	ErrTableExists = fmt.Errorf("%w: table already exists", ErrInvalidArgument)
	// ErrBatchTooLarge is returned by PutBatch for batches above the
	// configured limit. Nothing is written.
	ErrBatchTooLarge = errors.New("batch is too large")
)

func hasLength(name, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: %v must not be blank", ErrInvalidArgument, name)
	}
	return nil
}

func hasLengthBatch(args ...string) error {
	for i := 0; i+1 < len(args); i += 2 {
		if err := hasLength(args[i], args[i+1]); err != nil {
			return err
		}
	}
	return nil
}

func notEmpty(name string, v []byte) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: %v must not be empty", ErrInvalidArgument, name)
	}
	return nil
}

// translate maps store errors onto this package's sentinels, keeping the
// original in the chain.
func translate(table string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrTableNotFound):
		return fmt.Errorf("%w: %v: %w", ErrTableNotFound, table, err)
	case errors.Is(err, storage.ErrTableExists):
		return fmt.Errorf("%w: %v: %w", ErrTableExists, table, err)
	}
	return err
}
