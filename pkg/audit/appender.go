package audit

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Appender - интерфейс для записи аудита
type Appender interface {
	// Append - записать запись
	Append(ctx context.Context, entry *Entry) error

	// Close - закрыть appender
	Close() error
}

// MultiAppender - запись в несколько appenders
type MultiAppender struct {
	appenders []Appender
}

// NewMultiAppender - создать multi appender
func NewMultiAppender(appenders ...Appender) *MultiAppender {
	return &MultiAppender{
		appenders: appenders,
	}
}

// Append - записать во все appenders; ошибка одного не останавливает остальные
func (ma *MultiAppender) Append(ctx context.Context, entry *Entry) error {
	var firstErr error

	for _, appender := range ma.appenders {
		if err := appender.Append(ctx, entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Close - закрыть все appenders
func (ma *MultiAppender) Close() error {
	var firstErr error

	for _, appender := range ma.appenders {
		if err := appender.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Add - добавить appender
func (ma *MultiAppender) Add(appender Appender) {
	ma.appenders = append(ma.appenders, appender)
}

// WriterAppender - запись строк в io.Writer (stdout, stderr, буфер)
type WriterAppender struct {
	mu         sync.Mutex
	w          io.Writer
	level      Level
	formatJSON bool
}

// NewWriterAppender - создать writer appender
func NewWriterAppender(w io.Writer, level Level, formatJSON bool) *WriterAppender {
	return &WriterAppender{
		w:          w,
		level:      level,
		formatJSON: formatJSON,
	}
}

// Append - записать одну строку
func (wa *WriterAppender) Append(ctx context.Context, entry *Entry) error {
	line, err := formatEntry(entry.FilterByLevel(wa.level), wa.formatJSON)
	if err != nil {
		return err
	}

	wa.mu.Lock()
	defer wa.mu.Unlock()

	if _, err := wa.w.Write(line); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	return nil
}

// Close - noop
func (wa *WriterAppender) Close() error {
	return nil
}

// formatEntry - строка записи с переводом строки
func formatEntry(entry *Entry, formatJSON bool) ([]byte, error) {
	if !formatJSON {
		return []byte(entry.String() + "\n"), nil
	}

	data, err := entry.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry: %w", err)
	}
	return append(data, '\n'), nil
}
