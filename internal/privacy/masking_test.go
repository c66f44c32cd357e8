package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskChatID(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{-1001234567890, "-*********7890"},
		{123456789, "*****6789"},
		{1234, "****"},
		{-12, "-**"},
		{0, "*"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, MaskChatID(tt.input))
	}
}

func TestMaskUserName(t *testing.T) {
	assert.Equal(t, "J***", MaskUserName("Juan"))
	assert.Equal(t, "Á****", MaskUserName("Ángel"))
	assert.Equal(t, "*", MaskUserName("x"))
	assert.Equal(t, "", MaskUserName(""))
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "123456:***", MaskToken("123456:AAH-secret"))
	assert.Equal(t, "***", MaskToken("nocolon"))
	assert.Equal(t, "", MaskToken(""))
}

func TestMaskSensitiveFields(t *testing.T) {
	assert.Nil(t, MaskSensitiveFields(nil))

	masked := MaskSensitiveFields(map[string]interface{}{
		"chat_id":   int64(-1009876543210),
		"from":      "Maria",
		"bot_token": "42:xyz",
		"command":   "/estado",
		"count":     3,
	})

	assert.Equal(t, "-*********3210", masked["chat_id"])
	assert.Equal(t, "M****", masked["from"])
	assert.Equal(t, "42:***", masked["bot_token"])
	assert.Equal(t, "/estado", masked["command"])
	assert.Equal(t, 3, masked["count"])
}
