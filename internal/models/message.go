package models

import (
	"time"
)

// BotSenderName is the "from" value of every message the bot sends
const BotSenderName = "Bot"

// ReplyRef is a snapshot of the message being replied to, taken when the reply was seen
type ReplyRef struct {
	MessageID int    `json:"messageId"`
	From      string `json:"from"`
	Text      string `json:"text"`
}

// ChatMessage is one entry of the chat history shown in the web client
type ChatMessage struct {
	MessageID int       `json:"messageId"`
	From      string    `json:"from"`
	Text      string    `json:"text"`
	PhotoURL  *string   `json:"photoUrl"`
	ReplyTo   *ReplyRef `json:"replyTo"`
	Timestamp time.Time `json:"timestamp"`
	IsBot     bool      `json:"isBot"`
}

// FieldReport is an incident note raised from the chat with /reporte
type FieldReport struct {
	ID        string    `json:"id"`
	Principal int       `json:"principal"`
	Mensaje   string    `json:"mensaje"`
	Estado    string    `json:"estado"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
}
