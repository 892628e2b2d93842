package result

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ruslano69/mssqlpool/pkg/value"
	"github.com/ruslano69/mssqlpool/pkg/wire"
)

// Materialize reads the whole stream and closes it.
//
// The first result set that carries columns becomes the row set; any later
// result sets are read and dropped. A batch without result sets yields the
// count form. The stream is always drained to its end, including after a
// decode failure, so the Channel stays usable for the next batch.
//
// Errors: *wire.StatementError for server errors, *value.DecodeError for
// cells that do not match their column type or result sets with columns
// the driver cannot describe, or a transport error.
func Materialize(stream wire.ResultStream) (res *ExecutionResult, err error) {
	defer func() {
		if cerr := stream.Close(); cerr != nil && err == nil {
			res, err = nil, cerr
		}
	}()

	var (
		out       *ExecutionResult
		decodeErr error
	)

	for {
		cols, err := stream.Columns()
		if err != nil {
			return nil, columnsErr(err)
		}

		if out == nil && len(cols) > 0 {
			out, decodeErr = collect(stream, cols)
		} else {
			for stream.Next() {
			}
		}

		if err := stream.Err(); err != nil {
			return nil, err
		}
		if !stream.NextResultSet() {
			break
		}
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	if out != nil {
		return out, nil
	}

	n, ok := stream.RowsAffected()
	return &ExecutionResult{affected: n, reported: ok}, nil
}

// columnsErr reports an undescribable result set as a decode failure.
// With a single column the failing one is known.
func columnsErr(err error) error {
	var typeErr *wire.ColumnTypeError
	if !errors.As(err, &typeErr) {
		return err
	}

	decErr := &value.DecodeError{
		Column:  strings.Join(typeErr.Columns, ", "),
		Index:   -1,
		SQLType: "UDT",
		Err:     err,
	}
	if len(typeErr.Columns) == 1 {
		decErr.Index = 0
	}
	return decErr
}

// collect decodes the current result set. After the first decode failure
// it keeps reading so the stream ends up drained.
func collect(stream wire.ResultStream, cols []wire.Column) (*ExecutionResult, error) {
	shared := make([]wire.Column, len(cols))
	copy(shared, cols)

	index := make(map[string]int, len(shared))
	for i, c := range shared {
		if _, dup := index[c.Name]; !dup {
			index[c.Name] = i
		}
	}

	out := &ExecutionResult{cols: shared, rows: []Row{}}
	var decodeErr error

	for stream.Next() {
		if decodeErr != nil {
			continue
		}

		raw := stream.Values()
		if len(raw) != len(shared) {
			decodeErr = fmt.Errorf("row has %d cells, result set declares %d columns", len(raw), len(shared))
			continue
		}

		vals := make([]value.Value, len(shared))
		for i, c := range shared {
			v, err := value.Decode(c, raw[i])
			if err != nil {
				decodeErr = err
				break
			}
			vals[i] = v
		}
		if decodeErr == nil {
			out.rows = append(out.rows, Row{cols: shared, index: index, values: vals})
		}
	}

	return out, decodeErr
}
