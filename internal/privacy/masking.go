package privacy

import (
	"strconv"
	"strings"

	"principales/internal/constants"
)

// MaskChatID masks a Telegram chat id keeping the sign and the last digits.
// Example: -1001234567890 -> "-*********7890"
func MaskChatID(chatID int64) string {
	s := strconv.FormatInt(chatID, 10)
	if strings.HasPrefix(s, "-") {
		return "-" + maskString(s[1:], constants.DefaultChatIDMaskLength)
	}
	return maskString(s, constants.DefaultChatIDMaskLength)
}

// MaskUserName masks a Telegram display name or username, keeping the first letter
func MaskUserName(name string) string {
	r := []rune(name)
	if len(r) <= 1 {
		return strings.Repeat("*", len(r))
	}
	return string(r[0]) + strings.Repeat("*", len(r)-1)
}

// MaskToken hides everything but the bot id part of a bot token ("123:abc" -> "123:***")
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if i := strings.Index(token, ":"); i >= 0 {
		return token[:i+1] + "***"
	}
	return "***"
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{})
	for k, v := range fields {
		switch k {
		case "chat_id", "chatId", "chat":
			switch id := v.(type) {
			case int64:
				masked[k] = MaskChatID(id)
			case string:
				masked[k] = maskString(id, constants.DefaultChatIDMaskLength)
			default:
				masked[k] = v
			}
		case "from", "user", "updated_by":
			if s, ok := v.(string); ok {
				masked[k] = MaskUserName(s)
			} else {
				masked[k] = v
			}
		case "token", "bot_token":
			if s, ok := v.(string); ok {
				masked[k] = MaskToken(s)
			} else {
				masked[k] = v
			}
		default:
			masked[k] = v
		}
	}

	return masked
}
