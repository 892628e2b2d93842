package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrLoggerClosed - запись после Close
var ErrLoggerClosed = errors.New("audit logger is closed")

// Logger - интерфейс аудита, который принимает сессия
type Logger interface {
	Log(ctx context.Context, entry *Entry) error
	Flush() error
	Close() error
}

// LoggerConfig - конфигурация логгера
type LoggerConfig struct {
	// AsyncMode - асинхронная запись в appenders
	AsyncMode bool

	// BufferSize - размер буфера для асинхронного режима
	BufferSize int

	// FlushInterval - интервал автоматического flush (0 = отключен)
	FlushInterval time.Duration

	// OnError - callback при ошибке записи
	OnError func(error)
}

// DefaultConfig - асинхронный режим с буфером 1000
func DefaultConfig() LoggerConfig {
	return LoggerConfig{
		AsyncMode:  true,
		BufferSize: 1000,
	}
}

// SyncConfig - синхронный режим
func SyncConfig() LoggerConfig {
	return LoggerConfig{}
}

// AuditLogger - логгер аудита поверх набора appenders
type AuditLogger struct {
	appenders []Appender
	config    LoggerConfig

	// closeMu: Log держит RLock на время отправки в канал,
	// Close берёт Lock, поэтому после Close ничего не теряется
	closeMu sync.RWMutex
	closed  bool

	entries chan *Entry
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewLogger - создать логгер
func NewLogger(config LoggerConfig, appenders ...Appender) *AuditLogger {
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}

	l := &AuditLogger{
		appenders: appenders,
		config:    config,
		stop:      make(chan struct{}),
	}

	if config.AsyncMode {
		l.entries = make(chan *Entry, config.BufferSize)
		l.wg.Add(1)
		go l.processEntries()
	}

	if config.FlushInterval > 0 {
		l.wg.Add(1)
		go l.autoFlush()
	}

	return l
}

// Log - записать запись. В асинхронном режиме при переполненном буфере
// запись выполняется синхронно.
func (l *AuditLogger) Log(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return errors.New("entry is nil")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	l.closeMu.RLock()
	defer l.closeMu.RUnlock()

	if l.closed {
		return ErrLoggerClosed
	}

	if l.entries != nil {
		select {
		case l.entries <- entry:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	return l.writeEntry(ctx, entry)
}

// writeEntry - записать во все appenders
func (l *AuditLogger) writeEntry(ctx context.Context, entry *Entry) error {
	var firstError error

	for _, appender := range l.appenders {
		if err := appender.Append(ctx, entry); err != nil {
			if firstError == nil {
				firstError = err
			}
			l.handleError(fmt.Errorf("appender failed: %w", err))
		}
	}

	return firstError
}

// processEntries - фоновая запись в асинхронном режиме
func (l *AuditLogger) processEntries() {
	defer l.wg.Done()

	for {
		select {
		case entry := <-l.entries:
			l.writeEntry(context.Background(), entry)

		case <-l.stop:
			// Обрабатываем оставшиеся записи
			for {
				select {
				case entry := <-l.entries:
					l.writeEntry(context.Background(), entry)
				default:
					return
				}
			}
		}
	}
}

// autoFlush - периодический flush appenders
func (l *AuditLogger) autoFlush() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Flush()
		case <-l.stop:
			return
		}
	}
}

// Flush - сбросить буферы appenders, которые это поддерживают
func (l *AuditLogger) Flush() error {
	var firstError error

	for _, appender := range l.appenders {
		if flusher, ok := appender.(interface{ Flush() error }); ok {
			if err := flusher.Flush(); err != nil {
				if firstError == nil {
					firstError = err
				}
				l.handleError(fmt.Errorf("flush failed: %w", err))
			}
		}
	}

	return firstError
}

// Close - дописать буфер, закрыть appenders. Повторный вызов - noop.
func (l *AuditLogger) Close() error {
	l.closeMu.Lock()
	if l.closed {
		l.closeMu.Unlock()
		return nil
	}
	l.closed = true
	close(l.stop)
	l.closeMu.Unlock()

	l.wg.Wait()
	l.Flush()

	var firstError error

	for _, appender := range l.appenders {
		if err := appender.Close(); err != nil {
			if firstError == nil {
				firstError = err
			}
			l.handleError(fmt.Errorf("close failed: %w", err))
		}
	}

	return firstError
}

// handleError - передать ошибку в OnError
func (l *AuditLogger) handleError(err error) {
	if l.config.OnError != nil {
		l.config.OnError(err)
	}
}

// NullLogger - пустой logger
type NullLogger struct{}

// NewNullLogger - создать null logger
func NewNullLogger() *NullLogger {
	return &NullLogger{}
}

func (NullLogger) Log(ctx context.Context, entry *Entry) error { return nil }
func (NullLogger) Flush() error                                { return nil }
func (NullLogger) Close() error                                { return nil }
