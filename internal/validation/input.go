// Package validation: проверки пользовательского текста в escrow и нарядах.
package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Константы валидации
const (
	MinEscrowTitleLength    = 3
	MaxEscrowTitleLength    = 200
	MaxDescriptionLength    = 5000
	MaxMilestoneTitleLength = 200
	MinDisputeReasonLength  = 5
	MaxDisputeReasonLength  = 2000
	MaxWorkTypeLength       = 100
)

// ValidateLength проверяет длину строки.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return fmt.Errorf("%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return fmt.Errorf("%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

// ValidateNonEmpty проверяет, что строка не пустая.
func ValidateNonEmpty(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s не может быть пустым", fieldName)
	}
	return nil
}

// ValidatePrintable отклоняет управляющие символы, кроме переводов строк и табуляции.
func ValidatePrintable(fieldName, value string) error {
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return fmt.Errorf("%s содержит недопустимые символы", fieldName)
		}
	}
	return nil
}

func ValidateEscrowTitle(title string) error {
	if err := ValidateNonEmpty("название проекта", title); err != nil {
		return err
	}
	title = strings.TrimSpace(title)
	if err := ValidateLength("название проекта", title, MinEscrowTitleLength, MaxEscrowTitleLength); err != nil {
		return err
	}
	return ValidatePrintable("название проекта", title)
}

// ValidateDescription: описание необязательно.
func ValidateDescription(description string) error {
	if err := ValidateLength("описание", description, 0, MaxDescriptionLength); err != nil {
		return err
	}
	return ValidatePrintable("описание", description)
}

func ValidateMilestoneTitle(title string) error {
	if err := ValidateLength("название этапа", strings.TrimSpace(title), 0, MaxMilestoneTitleLength); err != nil {
		return err
	}
	return ValidatePrintable("название этапа", title)
}

// ValidateDisputeReason проверяет причину спора.
func ValidateDisputeReason(reason string) error {
	if err := ValidateNonEmpty("причина спора", reason); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if err := ValidateLength("причина спора", reason, MinDisputeReasonLength, MaxDisputeReasonLength); err != nil {
		return err
	}
	return ValidatePrintable("причина спора", reason)
}

func ValidateWorkType(workType string) error {
	if err := ValidateNonEmpty("тип работ", workType); err != nil {
		return err
	}
	return ValidateLength("тип работ", strings.TrimSpace(workType), 1, MaxWorkTypeLength)
}
