package value

import (
	"errors"
	"fmt"
	"time"

	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/golang-sql/civil"
	"github.com/google/uuid"

	"github.com/ruslano69/mssqlpool/pkg/wire"
)

var (
	// ErrUnknownType is returned for a column type outside the Kind table
	// and for result sets the driver cannot describe.
	ErrUnknownType = wire.ErrUnknownColumnType

	// ErrTypeMismatch is returned when a payload does not match its column type.
	ErrTypeMismatch = errors.New("payload does not match column type")
)

// DecodeError describes a cell that could not be decoded.
// Index is -1 when the failing column of a result set is not known.
type DecodeError struct {
	Column  string
	Index   int
	SQLType string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("decode result set (%s): %v", e.Column, e.Err)
	}
	return fmt.Sprintf("decode column %q (index %d, %s): %v", e.Column, e.Index, e.SQLType, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode converts one raw driver cell into a Value tagged by col.TypeName.
// A nil raw is a NULL of the column's Kind. Decode never substitutes NULL
// for a payload it cannot read.
func Decode(col wire.Column, raw any) (Value, error) {
	sqlType := normalizeType(col.TypeName)
	kind, ok := sqlKinds[sqlType]
	if !ok {
		return Value{}, decodeErr(col, sqlType, ErrUnknownType)
	}
	if raw == nil {
		return Null(kind, sqlType), nil
	}

	payload, err := decodePayload(kind, sqlType, col, raw)
	if err != nil {
		return Value{}, decodeErr(col, sqlType, err)
	}
	return Value{kind: kind, sqlType: sqlType, v: payload}, nil
}

func decodeErr(col wire.Column, sqlType string, err error) *DecodeError {
	if sqlType == "" {
		sqlType = col.TypeName
	}
	return &DecodeError{Column: col.Name, Index: col.Index, SQLType: sqlType, Err: err}
}

func mismatch(raw any) error {
	return fmt.Errorf("%w: got %T", ErrTypeMismatch, raw)
}

func decodePayload(kind Kind, sqlType string, col wire.Column, raw any) (any, error) {
	switch kind {
	case KindInteger:
		return decodeInteger(raw)

	case KindFloat:
		switch x := raw.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		}
		return nil, mismatch(raw)

	case KindDecimal:
		return decodeDecimal(sqlType, col, raw)

	case KindBool:
		switch x := raw.(type) {
		case bool:
			return x, nil
		case int64:
			if x == 0 || x == 1 {
				return x == 1, nil
			}
		}
		return nil, mismatch(raw)

	case KindText:
		return decodeText(sqlType, raw)

	case KindBinary:
		if x, ok := raw.([]byte); ok {
			if x == nil {
				x = []byte{}
			}
			return x, nil
		}
		return nil, mismatch(raw)

	case KindDate:
		t, ok := raw.(time.Time)
		if !ok {
			return nil, mismatch(raw)
		}
		return civil.DateOf(t), nil

	case KindTime:
		t, ok := raw.(time.Time)
		if !ok {
			return nil, mismatch(raw)
		}
		return civil.TimeOf(t), nil

	case KindDateTime:
		t, ok := raw.(time.Time)
		if !ok {
			return nil, mismatch(raw)
		}
		return civil.DateTimeOf(t), nil

	case KindDateTimeOffset:
		t, ok := raw.(time.Time)
		if !ok {
			return nil, mismatch(raw)
		}
		return t, nil

	case KindUUID:
		return decodeUUID(raw)
	}

	return nil, ErrUnknownType
}

func decodeInteger(raw any) (any, error) {
	switch x := raw.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case int:
		return int64(x), nil
	}
	return nil, mismatch(raw)
}

// decodeDecimal keeps the declared scale: DECIMAL(p,s) as s, MONEY as 4.
func decodeDecimal(sqlType string, col wire.Column, raw any) (any, error) {
	var text string
	switch x := raw.(type) {
	case []byte:
		text = string(x)
	case string:
		text = x
	default:
		return nil, mismatch(raw)
	}

	d, err := ParseDecimal(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
	}

	switch {
	case sqlType == "MONEY" || sqlType == "SMALLMONEY":
		return d.Rescale(MoneyScale)
	case col.HasScale:
		return d.Rescale(int32(col.Scale))
	}
	return d, nil
}

func decodeText(sqlType string, raw any) (any, error) {
	switch x := raw.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	}
	if sqlType != "SQL_VARIANT" {
		return nil, mismatch(raw)
	}

	// sql_variant carries its base type per row; it is exposed as text.
	switch x := raw.(type) {
	case time.Time:
		return x.Format(time.RFC3339Nano), nil
	default:
		return fmt.Sprint(x), nil
	}
}

// decodeUUID accepts the 16 wire bytes (mixed-endian, as the driver
// returns them) or a textual GUID.
func decodeUUID(raw any) (any, error) {
	switch x := raw.(type) {
	case []byte:
		var ui mssql.UniqueIdentifier
		if err := ui.Scan(x); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		return uuid.UUID(ui), nil
	case string:
		u, err := uuid.Parse(x)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		return u, nil
	}
	return nil, mismatch(raw)
}
