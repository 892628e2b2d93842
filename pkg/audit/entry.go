package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"

	"github.com/ruslano69/mssqlpool/pkg/wire"
)

// Level - уровень детализации аудита
type Level int

const (
	// LevelMinimal - только операция, статус и длительность
	LevelMinimal Level = iota

	// LevelStandard - плюс сессия, канал и отпечаток запроса
	LevelStandard

	// LevelFull - плюс текст запроса и метаданные
	LevelFull
)

// String - строковое представление уровня
func (l Level) String() string {
	switch l {
	case LevelMinimal:
		return "minimal"
	case LevelStandard:
		return "standard"
	case LevelFull:
		return "full"
	default:
		return fmt.Sprintf("unknown(%d)", l)
	}
}

// ParseLevel - уровень по имени из конфигурации
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "minimal":
		return LevelMinimal, nil
	case "", "standard":
		return LevelStandard, nil
	case "full":
		return LevelFull, nil
	default:
		return LevelStandard, fmt.Errorf("unknown audit level %q", s)
	}
}

// Operation - тип операции
type Operation string

const (
	OpConnect    Operation = "connect"
	OpDisconnect Operation = "disconnect"
	OpExecute    Operation = "execute"
	OpQuery      Operation = "query"
)

// Status - результат операции
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Entry - запись аудита
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Operation Operation `json:"operation"`
	Status    Status    `json:"status"`

	// Session - идентификатор сессии клиента
	Session string `json:"session,omitempty"`

	// Mode - pooled или dedicated
	Mode string `json:"mode,omitempty"`

	// Pool - имя пула
	Pool string `json:"pool,omitempty"`

	// ChannelID - серверный @@SPID канала
	ChannelID int `json:"channel_id,omitempty"`

	// Fingerprint - xxh3 от нормализованного текста запроса
	Fingerprint string `json:"fingerprint,omitempty"`

	// Statement - текст запроса (только LevelFull)
	Statement string `json:"statement,omitempty"`

	RowsReturned    int           `json:"rows_returned,omitempty"`
	RecordsAffected int64         `json:"records_affected,omitempty"`
	Duration        time.Duration `json:"duration_ns,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	ErrorNumber  int32  `json:"error_number,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewEntry - создать новую запись
func NewEntry(operation Operation, status Status) *Entry {
	return &Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Operation: operation,
		Status:    status,
	}
}

// WithSession - установить сессию и режим
func (e *Entry) WithSession(session, mode string) *Entry {
	e.Session = session
	e.Mode = mode
	return e
}

// WithPool - установить имя пула
func (e *Entry) WithPool(name string) *Entry {
	e.Pool = name
	return e
}

// WithChannel - установить @@SPID канала
func (e *Entry) WithChannel(id int) *Entry {
	e.ChannelID = id
	return e
}

// WithStatement - установить текст запроса и его отпечаток
func (e *Entry) WithStatement(query string) *Entry {
	e.Statement = query
	e.Fingerprint = Fingerprint(query)
	return e
}

// WithRows - количество возвращённых строк
func (e *Entry) WithRows(n int) *Entry {
	e.RowsReturned = n
	return e
}

// WithRecordsAffected - количество затронутых записей
func (e *Entry) WithRecordsAffected(n int64) *Entry {
	e.RecordsAffected = n
	return e
}

// WithDuration - длительность операции
func (e *Entry) WithDuration(d time.Duration) *Entry {
	e.Duration = d
	return e
}

// WithError - установить ошибку; статус становится failure.
// Для ошибок сервера сохраняется номер ошибки.
func (e *Entry) WithError(err error) *Entry {
	if err == nil {
		return e
	}
	e.ErrorMessage = err.Error()
	e.Status = StatusFailure

	var stmtErr *wire.StatementError
	if errors.As(err, &stmtErr) {
		e.ErrorNumber = stmtErr.Number
	}
	return e
}

// WithMetadata - добавить метаданные
func (e *Entry) WithMetadata(key string, value any) *Entry {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

// ToJSON - преобразовать в JSON
func (e *Entry) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// String - строковое представление
func (e *Entry) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s",
		e.Timestamp.Format(time.RFC3339),
		e.Operation,
		e.Status,
	)
	if e.Session != "" {
		fmt.Fprintf(&b, " session=%s", e.Session)
	}
	if e.ChannelID != 0 {
		fmt.Fprintf(&b, " spid=%d", e.ChannelID)
	}
	if e.Fingerprint != "" {
		fmt.Fprintf(&b, " fp=%s", e.Fingerprint)
	}
	fmt.Fprintf(&b, " rows=%d affected=%d duration=%v", e.RowsReturned, e.RecordsAffected, e.Duration)
	if e.ErrorMessage != "" {
		fmt.Fprintf(&b, " error=%q", e.ErrorMessage)
	}
	return b.String()
}

// Clone - копия записи
func (e *Entry) Clone() *Entry {
	clone := *e

	if e.Metadata != nil {
		clone.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}

	return &clone
}

// FilterByLevel - копия записи с полями, допустимыми для уровня
func (e *Entry) FilterByLevel(level Level) *Entry {
	filtered := e.Clone()

	switch level {
	case LevelMinimal:
		filtered.Session = ""
		filtered.Mode = ""
		filtered.Pool = ""
		filtered.ChannelID = 0
		filtered.Fingerprint = ""
		filtered.Statement = ""
		filtered.Metadata = nil

	case LevelStandard:
		// Текст запроса может содержать литералы с данными
		filtered.Statement = ""
		filtered.Metadata = nil

	case LevelFull:
	}

	return filtered
}

// Fingerprint - отпечаток запроса: xxh3 от текста с нормализованными
// пробелами. Запросы, отличающиеся только форматированием, совпадают.
func Fingerprint(query string) string {
	normalized := strings.Join(strings.Fields(query), " ")
	return fmt.Sprintf("%016x", xxh3.HashString(normalized))
}
