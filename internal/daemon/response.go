package daemon

import (
	"encoding/json"
	"log/slog"
)

// Severity classifies a response message so clients can replay it at
// the matching log level.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Response is the JSON payload the daemon sends back for each socket
// command. Data carries command-specific structures such as the status
// report alongside the human-readable messages.
type Response struct {
	Messages []ResponseMessage `json:"messages"`
	Data     interface{}       `json:"data,omitempty"`
}

type ResponseMessage struct {
	Message  string   `json:"message"`
	Severity Severity `json:"status"`
}

func (r *Response) AddMessage(message string, severity Severity) {
	r.Messages = append(r.Messages, ResponseMessage{
		Message:  message,
		Severity: severity,
	})
}

func (r *Response) AddData(data interface{}) {
	r.Data = data
}

func (r *Response) ToJSON() string {
	bytes, err := json.Marshal(r)
	if err != nil {
		panic(err)
	}
	return string(bytes)
}

// LogMessages replays the daemon's messages through the client's own
// logger at their recorded severity.
func (r *Response) LogMessages() {
	for _, message := range r.Messages {
		switch message.Severity {
		case SeverityWarn:
			slog.Warn(message.Message)
		case SeverityError:
			slog.Error(message.Message)
		default:
			slog.Info(message.Message)
		}
	}
}
