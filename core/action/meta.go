package action

import "net/http"

// Meta carries transport hints next to a handler's data. Each channel
// reads only its own section. Meta is never schema checked.
type Meta struct {
	HTTP  *HTTPMeta  `json:"http,omitempty"`
	MCP   *MCPMeta   `json:"mcp,omitempty"`
	Event *EventMeta `json:"event,omitempty"`
	Cron  *CronMeta  `json:"cron,omitempty"`
}

type HTTPMeta struct {
	Status  int               `json:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Cookies []*http.Cookie    `json:"-"`
}

type MCPMeta struct {
	Text    string `json:"text,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

type EventMeta struct {
	Emit []Emission `json:"emit,omitempty"`
}

// Emission is an event to publish after the invocation succeeds.
type Emission struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

type CronMeta struct {
	Skip bool   `json:"skip,omitempty"`
	Note string `json:"note,omitempty"`
}

// Envelope wraps handler data with transport metadata.
type Envelope struct {
	Data any
	Meta Meta
}

// WithMeta wraps data with meta.
func WithMeta(data any, meta Meta) Envelope {
	return Envelope{Data: data, Meta: meta}
}

// Split separates the data from an envelope. Plain values return nil meta.
func Split(v any) (any, *Meta) {
	switch e := v.(type) {
	case Envelope:
		m := e.Meta
		return e.Data, &m
	case *Envelope:
		if e == nil {
			return nil, nil
		}
		m := e.Meta
		return e.Data, &m
	default:
		return v, nil
	}
}
