package security

import (
	"errors"
	"fmt"

	"github.com/ruslano69/mssqlpool/pkg/wire"
)

// ErrRejected - запрос отклонен в read-only режиме
var ErrRejected = errors.New("statement rejected in read-only mode")

// forbidden - ключевые слова, запрещенные в read-only режиме.
// Проверяются только слова верхнего уровня: комментарии, строковые
// литералы, [идентификаторы] и текст в скобках не учитываются.
var forbidden = map[string]bool{
	// DML
	"INSERT": true, "UPDATE": true, "DELETE": true, "TRUNCATE": true, "MERGE": true,

	// SELECT ... INTO создает таблицу
	"INTO": true,

	// DDL
	"DROP": true, "CREATE": true, "ALTER": true,

	// DCL
	"GRANT": true, "REVOKE": true, "DENY": true,

	// Процедуры и динамический SQL
	"EXEC": true, "EXECUTE": true, "OPENROWSET": true, "OPENQUERY": true,

	// Транзакции и состояние соединения
	"BEGIN": true, "COMMIT": true, "ROLLBACK": true, "SAVE": true, "SET": true, "USE": true,

	// Администрирование сервера
	"DBCC": true, "BACKUP": true, "RESTORE": true, "KILL": true, "SHUTDOWN": true, "RECONFIGURE": true,
}

// SQLValidator проверяет T-SQL батчи перед отправкой.
//
// В safe mode разрешен ровно один SELECT или WITH ... SELECT.
// В unsafe mode все батчи проходят без проверки.
type SQLValidator struct {
	safeMode bool
}

// NewSQLValidator создает новый SQL валидатор.
func NewSQLValidator(safeMode bool) *SQLValidator {
	return &SQLValidator{safeMode: safeMode}
}

// Validate проверяет батч на соответствие read-only политике.
//
// В safe mode проверяет:
//   - батч начинается с SELECT, WITH или (SELECT ...)
//   - нет запрещенных ключевых слов верхнего уровня
//   - не больше одной команды (";" допустима только в конце)
//
// Ошибка оборачивает ErrRejected.
func (v *SQLValidator) Validate(sql string) error {
	if !v.safeMode {
		return nil
	}

	words := wire.Keywords(sql)
	if len(words) == 0 {
		return fmt.Errorf("%w: empty batch", ErrRejected)
	}

	// 1. Разрешены только SELECT, WITH (CTE) и запрос в скобках
	if words[0] != "SELECT" && words[0] != "WITH" && words[0] != "(" {
		return fmt.Errorf("%w: only SELECT and WITH allowed, got %s", ErrRejected, words[0])
	}

	for i, w := range words {
		// 2. Запрет множественных команд
		if w == ";" {
			if i != len(words)-1 {
				return fmt.Errorf("%w: multiple statements", ErrRejected)
			}
			continue
		}

		// 3. Запрещенные ключевые слова
		if forbidden[w] {
			return fmt.Errorf("%w: forbidden keyword %s", ErrRejected, w)
		}
	}

	return nil
}

// IsSafeMode возвращает текущий режим валидатора
func (v *SQLValidator) IsSafeMode() bool {
	return v.safeMode
}
