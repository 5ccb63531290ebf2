package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEscrowTitle(t *testing.T) {
	tests := []struct {
		name    string
		title   string
		wantErr bool
	}{
		{"ok", "Замена проводки", false},
		{"trimmed ok", "  Кухня  ", false},
		{"empty", "   ", true},
		{"too short", "ab", true},
		{"too long", strings.Repeat("я", MaxEscrowTitleLength+1), true},
		{"control chars", "Ремонт\x00", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEscrowTitle(tt.title)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateLength_CountsRunes(t *testing.T) {
	assert.NoError(t, ValidateLength("поле", "ёёё", 3, 3))
	assert.Error(t, ValidateLength("поле", "ёё", 3, 0))
}

func TestValidateDisputeReason(t *testing.T) {
	assert.NoError(t, ValidateDisputeReason("работы не начаты"))
	assert.NoError(t, ValidateDisputeReason("строка\nвторая"))
	assert.Error(t, ValidateDisputeReason(""))
	assert.Error(t, ValidateDisputeReason("нет"))
}

func TestValidateDescription(t *testing.T) {
	assert.NoError(t, ValidateDescription(""))
	assert.Error(t, ValidateDescription(strings.Repeat("a", MaxDescriptionLength+1)))
}
