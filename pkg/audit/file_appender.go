package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// FileAppender - запись в файл с ротацией.
// Архивы сжимаются zstd: <path>.1.zst (новейший) ... <path>.N.zst.
type FileAppender struct {
	mu          sync.Mutex
	file        *os.File
	filePath    string
	maxSize     int64 // в байтах
	maxBackups  int
	currentSize int64
	level       Level
	formatJSON  bool
}

// FileAppenderConfig - конфигурация file appender
type FileAppenderConfig struct {
	FilePath   string
	MaxSize    int64 // В мегабайтах
	MaxBackups int
	Level      Level
	FormatJSON bool

	// maxBytes переопределяет MaxSize в тестах
	maxBytes int64
}

// NewFileAppender - создать file appender
func NewFileAppender(config FileAppenderConfig) (*FileAppender, error) {
	if config.FilePath == "" {
		return nil, errors.New("audit file path is required")
	}

	dir := filepath.Dir(config.FilePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}

	fileInfo, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	maxSize := config.MaxSize
	if maxSize == 0 {
		maxSize = 100 // По умолчанию 100 MB
	}
	maxBytes := maxSize * 1024 * 1024
	if config.maxBytes > 0 {
		maxBytes = config.maxBytes
	}

	maxBackups := config.MaxBackups
	if maxBackups == 0 {
		maxBackups = 5
	}

	return &FileAppender{
		file:        file,
		filePath:    config.FilePath,
		maxSize:     maxBytes,
		maxBackups:  maxBackups,
		currentSize: fileInfo.Size(),
		level:       config.Level,
		formatJSON:  config.FormatJSON,
	}, nil
}

// Append - записать запись в файл
func (fa *FileAppender) Append(ctx context.Context, entry *Entry) error {
	data, err := formatEntry(entry.FilterByLevel(fa.level), fa.formatJSON)
	if err != nil {
		return err
	}

	fa.mu.Lock()
	defer fa.mu.Unlock()

	if fa.file == nil {
		return os.ErrClosed
	}

	if fa.currentSize > 0 && fa.currentSize+int64(len(data)) > fa.maxSize {
		if err := fa.rotate(); err != nil {
			return fmt.Errorf("failed to rotate file: %w", err)
		}
	}

	n, err := fa.file.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}

	fa.currentSize += int64(n)
	return nil
}

// BackupPath - путь к архиву с номером n (1 - новейший)
func (fa *FileAppender) BackupPath(n int) string {
	return fmt.Sprintf("%s.%d.zst", fa.filePath, n)
}

// rotate - сдвинуть архивы, сжать текущий файл в .1.zst, открыть новый
func (fa *FileAppender) rotate() error {
	if err := fa.file.Close(); err != nil {
		return err
	}
	fa.file = nil

	// Самый старый архив удаляется
	os.Remove(fa.BackupPath(fa.maxBackups))
	for i := fa.maxBackups - 1; i > 0; i-- {
		oldPath := fa.BackupPath(i)
		if _, err := os.Stat(oldPath); err == nil {
			if err := os.Rename(oldPath, fa.BackupPath(i+1)); err != nil {
				return err
			}
		}
	}

	if err := compressFile(fa.filePath, fa.BackupPath(1)); err != nil {
		return err
	}
	if err := os.Remove(fa.filePath); err != nil {
		return err
	}

	file, err := os.OpenFile(fa.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	fa.file = file
	fa.currentSize = 0

	return nil
}

// compressFile - сжать src в dst
func compressFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		return fmt.Errorf("failed to compress %s: %w", src, err)
	}
	return enc.Close()
}

// Close - закрыть файл
func (fa *FileAppender) Close() error {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	if fa.file == nil {
		return nil
	}
	err := fa.file.Close()
	fa.file = nil
	return err
}

// Flush - сбросить буфер на диск
func (fa *FileAppender) Flush() error {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	if fa.file != nil {
		return fa.file.Sync()
	}

	return nil
}

// CurrentSize - текущий размер файла
func (fa *FileAppender) CurrentSize() int64 {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.currentSize
}

// FilePath - путь к файлу
func (fa *FileAppender) FilePath() string {
	return fa.filePath
}
