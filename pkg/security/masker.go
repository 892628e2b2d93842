package security

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ruslano69/mssqlpool/pkg/result"
	"github.com/ruslano69/mssqlpool/pkg/value"
	"github.com/ruslano69/mssqlpool/pkg/wire"
)

// MaskPattern определяет тип маскирования
type MaskPattern string

const (
	// MaskPartial маскирует среднюю часть (email: j***@example.com)
	MaskPartial MaskPattern = "partial"
	// MaskMiddle маскирует средние цифры (phone: +1 (555) XXX-4567)
	MaskMiddle MaskPattern = "middle"
	// MaskStars заменяет все на звездочки, разделители сохраняются
	MaskStars MaskPattern = "stars"
	// MaskFirst2Last2 показывает только первые 2 и последние 2 символа (1234 5678 → 12** **78)
	MaskFirst2Last2 MaskPattern = "first2_last2"
)

var (
	emailRegex = regexp.MustCompile(`^([a-zA-Z0-9._%+-]+)@([a-zA-Z0-9.-]+\.[a-zA-Z]{2,})$`)
	nonDigit   = regexp.MustCompile(`\D`)
)

// ParseMaskPattern проверяет имя паттерна
func ParseMaskPattern(s string) (MaskPattern, error) {
	switch p := MaskPattern(strings.ToLower(strings.TrimSpace(s))); p {
	case MaskPartial, MaskMiddle, MaskStars, MaskFirst2Last2:
		return p, nil
	default:
		return "", fmt.Errorf("invalid mask pattern %q", s)
	}
}

// FieldMasker маскирует чувствительные данные (PII) в колонках результата
// перед выводом. Имена колонок сравниваются без учета регистра.
type FieldMasker struct {
	fields map[string]MaskPattern // column -> pattern
}

// NewFieldMasker создает маскировщик из карты колонка -> паттерн.
// Неизвестный паттерн возвращает ошибку.
func NewFieldMasker(fields map[string]string) (*FieldMasker, error) {
	m := &FieldMasker{fields: make(map[string]MaskPattern, len(fields))}
	for name, s := range fields {
		p, err := ParseMaskPattern(s)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		m.fields[strings.ToLower(name)] = p
	}
	return m, nil
}

// Empty - нет колонок для маскирования
func (m *FieldMasker) Empty() bool {
	return m == nil || len(m.fields) == 0
}

// MaskedType - SQL тип замаскированной колонки
const MaskedType = "NVARCHAR"

// Apply возвращает копию результата с замаскированными колонками.
// Замаскированная колонка становится текстовой (MaskedType) вместе со
// всеми значениями, NULL остается NULL.
func (m *FieldMasker) Apply(res *result.ExecutionResult) *result.ExecutionResult {
	if m.Empty() || !res.HasRows() {
		return res
	}

	retyped := make(map[int]string)
	for i, col := range res.Columns() {
		if _, ok := m.fields[strings.ToLower(col.Name)]; ok {
			retyped[i] = MaskedType
		}
	}
	if len(retyped) == 0 {
		return res
	}

	return res.Transform(func(col wire.Column, v value.Value) value.Value {
		pattern, ok := m.fields[strings.ToLower(col.Name)]
		if !ok {
			return v
		}
		if v.IsNull() {
			return value.Null(value.KindText, MaskedType)
		}
		return value.NewText(MaskedType, MaskValue(v.String(), pattern))
	}).Retype(retyped)
}

// MaskValue применяет маскирование к значению
func MaskValue(s string, pattern MaskPattern) string {
	if s == "" {
		return s
	}
	switch pattern {
	case MaskPartial:
		return maskPartial(s)
	case MaskMiddle:
		return maskMiddle(s)
	case MaskFirst2Last2:
		return maskFirst2Last2(s)
	default:
		return maskStars(s)
	}
}

// maskPartial оставляет первый и последний символ.
// Для email маскируется только локальная часть: john.doe@example.com → j***@example.com
func maskPartial(s string) string {
	if m := emailRegex.FindStringSubmatch(s); len(m) == 3 {
		return m[1][:1] + "***@" + m[2]
	}

	runes := []rune(s)
	if len(runes) <= 2 {
		return "***"
	}
	return string(runes[0]) + "***" + string(runes[len(runes)-1])
}

// maskMiddle заменяет средние цифры на X.
// Видны первые и последние 4 цифры, для коротких номеров - по 2.
func maskMiddle(s string) string {
	digits := len(nonDigit.ReplaceAllString(s, ""))
	if digits <= 4 {
		return strings.Repeat("X", len([]rune(s)))
	}

	visible := 4
	if digits < 8 {
		visible = 2
	}

	runes := []rune(s)
	seen := 0
	for i, r := range runes {
		if r >= '0' && r <= '9' {
			seen++
			if seen > visible && seen <= digits-visible {
				runes[i] = 'X'
			}
		}
	}
	return string(runes)
}

// maskStars заменяет все символы кроме разделителей на звездочки
func maskStars(s string) string {
	runes := []rune(s)
	for i, r := range runes {
		if !strings.ContainsRune(" -().:/", r) {
			runes[i] = '*'
		}
	}
	return string(runes)
}

// maskFirst2Last2 показывает только первые 2 и последние 2 символа,
// пробелы остаются на своих местах
func maskFirst2Last2(s string) string {
	runes := []rune(s)
	var chars int
	for _, r := range runes {
		if r != ' ' {
			chars++
		}
	}
	if chars <= 4 {
		return maskStars(s)
	}

	n := 0
	for i, r := range runes {
		if r == ' ' {
			continue
		}
		n++
		if n > 2 && n <= chars-2 {
			runes[i] = '*'
		}
	}
	return string(runes)
}
