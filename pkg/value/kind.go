package value

import "strings"

// Kind is the tag of a Value. It is chosen from the declared column type
// alone, so a NULL cell keeps the Kind of its column.
type Kind int

const (
	KindNull Kind = iota
	KindInteger
	KindFloat
	KindDecimal
	KindBool
	KindText
	KindBinary
	KindDate
	KindTime
	KindDateTime
	KindDateTimeOffset
	KindUUID
)

var kindNames = [...]string{
	KindNull:           "null",
	KindInteger:        "integer",
	KindFloat:          "float",
	KindDecimal:        "decimal",
	KindBool:           "bool",
	KindText:           "text",
	KindBinary:         "binary",
	KindDate:           "date",
	KindTime:           "time",
	KindDateTime:       "datetime",
	KindDateTimeOffset: "datetimeoffset",
	KindUUID:           "uuid",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// sqlKinds maps SQL Server type names, as reported by the driver, to Kinds.
var sqlKinds = map[string]Kind{
	"TINYINT":  KindInteger,
	"SMALLINT": KindInteger,
	"INT":      KindInteger,
	"BIGINT":   KindInteger,

	"REAL":  KindFloat,
	"FLOAT": KindFloat,

	"DECIMAL":    KindDecimal,
	"NUMERIC":    KindDecimal,
	"MONEY":      KindDecimal,
	"SMALLMONEY": KindDecimal,

	"BIT": KindBool,

	"CHAR":        KindText,
	"VARCHAR":     KindText,
	"NCHAR":       KindText,
	"NVARCHAR":    KindText,
	"TEXT":        KindText,
	"NTEXT":       KindText,
	"XML":         KindText,
	"SQL_VARIANT": KindText,

	"BINARY":     KindBinary,
	"VARBINARY":  KindBinary,
	"IMAGE":      KindBinary,
	"TIMESTAMP":  KindBinary,
	"ROWVERSION": KindBinary,

	"DATE":           KindDate,
	"TIME":           KindTime,
	"DATETIME":       KindDateTime,
	"DATETIME2":      KindDateTime,
	"SMALLDATETIME":  KindDateTime,
	"DATETIMEOFFSET": KindDateTimeOffset,

	"UNIQUEIDENTIFIER": KindUUID,
}

// KindOf returns the Kind for a SQL type name. The lookup ignores case and
// any length suffix such as "(50)" or "(MAX)".
func KindOf(sqlType string) (Kind, bool) {
	k, ok := sqlKinds[normalizeType(sqlType)]
	return k, ok
}

func normalizeType(sqlType string) string {
	t := strings.TrimSpace(sqlType)
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	return strings.ToUpper(strings.TrimSpace(t))
}
