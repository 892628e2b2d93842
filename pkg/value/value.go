package value

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
)

// Value is one decoded cell: a Kind, the declared SQL type and a payload.
//
// Payload types per Kind:
//
//	KindInteger        int64
//	KindFloat          float64
//	KindDecimal        Decimal
//	KindBool           bool
//	KindText           string
//	KindBinary         []byte
//	KindDate           civil.Date
//	KindTime           civil.Time
//	KindDateTime       civil.DateTime
//	KindDateTimeOffset time.Time
//	KindUUID           uuid.UUID
type Value struct {
	kind    Kind
	sqlType string
	null    bool
	v       any
}

// Null returns a NULL of the given kind.
func Null(kind Kind, sqlType string) Value {
	return Value{kind: kind, sqlType: sqlType, null: true}
}

// NewText returns a non-NULL text value reported under sqlType.
func NewText(sqlType, s string) Value {
	return Value{kind: KindText, sqlType: sqlType, v: s}
}

// Kind returns the tag chosen from the declared column type.
func (v Value) Kind() Kind { return v.kind }

// SQLType returns the declared SQL type name, e.g. "NVARCHAR".
func (v Value) SQLType() string { return v.sqlType }

// IsNull reports whether the cell was NULL.
func (v Value) IsNull() bool { return v.null }

// Interface returns the payload, or nil for NULL.
func (v Value) Interface() any {
	if v.null {
		return nil
	}
	return v.v
}

func (v Value) Int() (int64, bool) {
	x, ok := v.v.(int64)
	return x, ok && !v.null
}

func (v Value) Float() (float64, bool) {
	x, ok := v.v.(float64)
	return x, ok && !v.null
}

func (v Value) Decimal() (Decimal, bool) {
	x, ok := v.v.(Decimal)
	return x, ok && !v.null
}

func (v Value) Bool() (bool, bool) {
	x, ok := v.v.(bool)
	return x, ok && !v.null
}

func (v Value) Text() (string, bool) {
	x, ok := v.v.(string)
	return x, ok && !v.null
}

// Bytes returns the binary payload. A zero-length value yields a non-nil
// empty slice and true; NULL yields nil and false.
func (v Value) Bytes() ([]byte, bool) {
	x, ok := v.v.([]byte)
	return x, ok && !v.null
}

func (v Value) Date() (civil.Date, bool) {
	x, ok := v.v.(civil.Date)
	return x, ok && !v.null
}

func (v Value) Time() (civil.Time, bool) {
	x, ok := v.v.(civil.Time)
	return x, ok && !v.null
}

func (v Value) DateTime() (civil.DateTime, bool) {
	x, ok := v.v.(civil.DateTime)
	return x, ok && !v.null
}

func (v Value) DateTimeOffset() (time.Time, bool) {
	x, ok := v.v.(time.Time)
	return x, ok && !v.null
}

func (v Value) UUID() (uuid.UUID, bool) {
	x, ok := v.v.(uuid.UUID)
	return x, ok && !v.null
}

// String formats the payload for display. NULL prints as "NULL",
// binary as 0x-prefixed hex, UUIDs in lowercase hyphenated form.
func (v Value) String() string {
	if v.null {
		return "NULL"
	}
	switch x := v.v.(type) {
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case string:
		return x
	case []byte:
		return fmt.Sprintf("0x%X", x)
	case time.Time:
		return x.Format("2006-01-02 15:04:05.9999999 -07:00")
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// MarshalJSON encodes the payload: numbers and bools natively, decimals as
// strings to keep their scale, binary as base64, NULL as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.null {
		return []byte("null"), nil
	}
	switch x := v.v.(type) {
	case int64, float64, bool, string:
		return json.Marshal(x)
	case []byte:
		return json.Marshal(base64.StdEncoding.EncodeToString(x))
	case time.Time:
		return json.Marshal(x.Format(time.RFC3339Nano))
	default:
		return json.Marshal(v.String())
	}
}
