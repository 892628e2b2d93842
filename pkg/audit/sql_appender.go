package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ruslano69/mssqlpool/pkg/result"
)

// Executor - то, через что SQLAppender пишет в базу.
// Подходят *pool.Pool, *dedicated.Session и *session.Session.
type Executor interface {
	Execute(ctx context.Context, query string, args ...any) (*result.ExecutionResult, error)
}

// MaxBatchSize - предел строк в одном INSERT: SQL Server принимает
// не более 2100 параметров на запрос.
const MaxBatchSize = 100

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

var sqlColumns = []string{
	"id", "ts", "operation", "status", "session_id", "mode", "pool_name",
	"channel_id", "fingerprint", "statement", "rows_returned",
	"records_affected", "duration_ms", "error_message", "error_number", "metadata",
}

// SQLAppender - запись аудита в таблицу SQL Server
type SQLAppender struct {
	exec      Executor
	tableName string
	level     Level
	batchSize int

	mu    sync.Mutex
	batch []*Entry
}

// SQLAppenderConfig - конфигурация SQL appender
type SQLAppenderConfig struct {
	// Exec - исполнитель запросов
	Exec Executor

	// TableName - имя таблицы, допускается schema.table
	TableName string

	// Level - уровень детализации
	Level Level

	// BatchSize - строк в одном INSERT (0 = без batching)
	BatchSize int

	// AutoCreateTable - создать таблицу, если её нет
	AutoCreateTable bool
}

// NewSQLAppender - создать SQL appender
func NewSQLAppender(ctx context.Context, config SQLAppenderConfig) (*SQLAppender, error) {
	if config.Exec == nil {
		return nil, errors.New("executor is required")
	}
	if config.TableName == "" {
		config.TableName = "dbo.audit_log"
	}
	if !tableNameRe.MatchString(config.TableName) {
		return nil, fmt.Errorf("invalid audit table name %q", config.TableName)
	}
	if config.BatchSize < 0 || config.BatchSize > MaxBatchSize {
		return nil, fmt.Errorf("batch size must be between 0 and %d", MaxBatchSize)
	}

	sa := &SQLAppender{
		exec:      config.Exec,
		tableName: config.TableName,
		level:     config.Level,
		batchSize: config.BatchSize,
	}

	if config.AutoCreateTable {
		if err := sa.createTable(ctx); err != nil {
			return nil, fmt.Errorf("failed to create audit table: %w", err)
		}
	}

	return sa, nil
}

// createTable - создать таблицу и индекс, если их нет
func (sa *SQLAppender) createTable(ctx context.Context) error {
	query := fmt.Sprintf(`IF OBJECT_ID(N'%[1]s', N'U') IS NULL
BEGIN
	CREATE TABLE %[1]s (
		id UNIQUEIDENTIFIER NOT NULL PRIMARY KEY,
		ts DATETIMEOFFSET(7) NOT NULL,
		operation VARCHAR(32) NOT NULL,
		status VARCHAR(16) NOT NULL,
		session_id VARCHAR(64) NULL,
		mode VARCHAR(16) NULL,
		pool_name NVARCHAR(128) NULL,
		channel_id INT NULL,
		fingerprint CHAR(16) NULL,
		statement NVARCHAR(MAX) NULL,
		rows_returned INT NOT NULL DEFAULT 0,
		records_affected BIGINT NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		error_message NVARCHAR(MAX) NULL,
		error_number INT NULL,
		metadata NVARCHAR(MAX) NULL
	);
	CREATE INDEX IX_%[2]s_ts ON %[1]s (ts);
END`, sa.tableName, strings.ReplaceAll(sa.tableName, ".", "_"))

	_, err := sa.exec.Execute(ctx, query)
	return err
}

// Append - записать запись; в batching режиме запись копится до BatchSize
func (sa *SQLAppender) Append(ctx context.Context, entry *Entry) error {
	filtered := entry.FilterByLevel(sa.level)

	if sa.batchSize == 0 {
		return sa.insert(ctx, []*Entry{filtered})
	}

	sa.mu.Lock()
	sa.batch = append(sa.batch, filtered)
	if len(sa.batch) < sa.batchSize {
		sa.mu.Unlock()
		return nil
	}
	batch := sa.batch
	sa.batch = nil
	sa.mu.Unlock()

	return sa.insert(ctx, batch)
}

// insert - один INSERT на все записи: batch пишется атомарно
func (sa *SQLAppender) insert(ctx context.Context, entries []*Entry) error {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", sa.tableName, strings.Join(sqlColumns, ", "))

	args := make([]any, 0, len(entries)*len(sqlColumns))
	for i, e := range entries {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range sqlColumns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", len(args)+j+1)
		}
		b.WriteByte(')')
		args = append(args, rowArgs(e)...)
	}

	res, err := sa.exec.Execute(ctx, b.String(), args...)
	if err != nil {
		return fmt.Errorf("failed to insert %d audit entries: %w", len(entries), err)
	}
	if n, ok := res.AffectedRows(); ok && n != int64(len(entries)) {
		return fmt.Errorf("audit insert affected %d rows, want %d", n, len(entries))
	}
	return nil
}

// rowArgs - параметры одной строки в порядке sqlColumns
func rowArgs(e *Entry) []any {
	var metadata any
	if len(e.Metadata) > 0 {
		if data, err := json.Marshal(e.Metadata); err == nil {
			metadata = string(data)
		}
	}
	var errorNumber any
	if e.ErrorNumber != 0 {
		errorNumber = e.ErrorNumber
	}
	var channelID any
	if e.ChannelID != 0 {
		channelID = e.ChannelID
	}

	return []any{
		e.ID,
		e.Timestamp,
		string(e.Operation),
		string(e.Status),
		nullString(e.Session),
		nullString(e.Mode),
		nullString(e.Pool),
		channelID,
		nullString(e.Fingerprint),
		nullString(e.Statement),
		e.RowsReturned,
		e.RecordsAffected,
		e.Duration.Milliseconds(),
		nullString(e.ErrorMessage),
		errorNumber,
		metadata,
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Flush - записать накопленный batch
func (sa *SQLAppender) Flush() error {
	sa.mu.Lock()
	batch := sa.batch
	sa.batch = nil
	sa.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return sa.insert(context.Background(), batch)
}

// Close - записать остаток; исполнитель не закрывается
func (sa *SQLAppender) Close() error {
	return sa.Flush()
}

// Count - количество записей с операцией op (пустая = все)
func (sa *SQLAppender) Count(ctx context.Context, op Operation) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT_BIG(*) FROM %s", sa.tableName)
	var args []any
	if op != "" {
		query += " WHERE operation = @p1"
		args = append(args, string(op))
	}

	res, err := sa.exec.Execute(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	rows := res.Rows()
	if len(rows) != 1 || rows[0].Len() != 1 {
		return 0, fmt.Errorf("unexpected count result: %d rows", len(rows))
	}
	n, ok := rows[0].At(0).Int()
	if !ok {
		return 0, fmt.Errorf("unexpected count value %v", rows[0].At(0))
	}
	return n, nil
}

// DeleteOlderThan - удалить записи старше before
func (sa *SQLAppender) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE ts < @p1", sa.tableName)

	res, err := sa.exec.Execute(ctx, query, before)
	if err != nil {
		return 0, err
	}
	n, _ := res.AffectedRows()
	return n, nil
}
