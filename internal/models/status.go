package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Status is the live state of one principal
type Status string

const (
	StatusActivo       Status = "activo"
	StatusDesconectado Status = "desconectado"
	StatusCRM          Status = "crm"
	StatusServer       Status = "server"
	StatusNone         Status = "none"
)

// AllStatuses in display order
var AllStatuses = []Status{StatusActivo, StatusDesconectado, StatusCRM, StatusServer, StatusNone}

// CheckedStatuses are the states counted by the daily check-in summary
var CheckedStatuses = []Status{StatusActivo, StatusDesconectado, StatusCRM, StatusServer}

var statusLabels = map[Status]string{
	StatusActivo:       "Activo",
	StatusDesconectado: "Desconectado",
	StatusCRM:          "En CRM",
	StatusServer:       "En Server",
	StatusNone:         "Sin chequear",
}

var statusEmojis = map[Status]string{
	StatusActivo:       "✅",
	StatusDesconectado: "🔴",
	StatusCRM:          "⚠️",
	StatusServer:       "🔧",
	StatusNone:         "⚪",
}

// ParseStatus returns the status named by s, ignoring case and surrounding space
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	_, ok := statusLabels[st]
	return st, ok
}

func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

func (s Status) Emoji() string {
	if e, ok := statusEmojis[s]; ok {
		return e
	}
	return "📱"
}

// Display renders the status as "<emoji> <label>"
func (s Status) Display() string {
	return s.Emoji() + " " + s.Label()
}

// RealTimeStatus is the live entry of one principal on the "tiempo real" board
type RealTimeStatus struct {
	Phone     int        `json:"phone"`
	Status    Status     `json:"status"`
	Mensaje   string     `json:"mensaje"`
	UpdatedBy string     `json:"updatedBy"`
	Timestamp *time.Time `json:"timestamp"`
}

// EmptyStatus is the implicit entry of a principal nobody has marked
func EmptyStatus(phone int) RealTimeStatus {
	return RealTimeStatus{Phone: phone, Status: StatusNone}
}

// CheckinEntry is one cell of the dated check-in grid kept by the web dashboard
type CheckinEntry struct {
	Phone     Phone  `json:"phone"`
	Period    string `json:"period"`
	Time      string `json:"time"`
	Status    Status `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Phone is a principal number that the dashboard may have written as a number or a string
type Phone int

func (p *Phone) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		n = json.Number(strings.TrimSpace(s))
	}
	v, err := strconv.Atoi(n.String())
	if err != nil {
		*p = 0
		return nil
	}
	*p = Phone(v)
	return nil
}
