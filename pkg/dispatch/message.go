package dispatch

import (
	"encoding/json"
	"strings"
)

// OperationKind selects the dispatcher route for a Message.
type OperationKind string

const (
	// OpConvertInline converts base64 source data with a base64 template
	// shipped in the message.
	OpConvertInline OperationKind = "convertInline"
	// OpConvertNamed converts raw source data with a stored template.
	OpConvertNamed OperationKind = "convertNamed"
	// OpTemplatesUpdated drops every cached template and engine instance.
	OpTemplatesUpdated OperationKind = "templatesUpdated"
	// OpConfigUpdated replaces the live configuration, then behaves like
	// OpTemplatesUpdated.
	OpConfigUpdated OperationKind = "configUpdated"
)

// Message is a conversion request or notification. It is not modified by the
// dispatcher.
type Message struct {
	OperationKind           OperationKind   `json:"operationKind"`
	RequestID               string          `json:"requestId,omitempty"`
	SrcDataType             string          `json:"srcDataType,omitempty"`
	SrcDataBase64           string          `json:"srcDataBase64,omitempty"`
	SrcData                 string          `json:"srcData,omitempty"`
	TemplateBase64          string          `json:"templateBase64,omitempty"`
	TemplateName            string          `json:"templateName,omitempty"`
	TemplatesOverrideBase64 string          `json:"templatesOverrideBase64,omitempty"`
	Data                    json.RawMessage `json:"data,omitempty"`
}

// Reply is the result of a handled Message. Result holds the success payload
// or an *ErrorBody.
type Reply struct {
	Status int `json:"status"`
	Result any `json:"resultMsg,omitempty"`
}

// OK reports a 2xx status.
func (r Reply) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// ErrorBody is the resultMsg of a failed Reply.
type ErrorBody struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// configPayload returns the JSON object text carried in Data. Data may hold
// the object itself or a JSON string containing it.
func (m Message) configPayload() (string, error) {
	raw := strings.TrimSpace(string(m.Data))
	if len(raw) > 0 && raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal([]byte(raw), &encoded); err != nil {
			return "", err
		}
		return encoded, nil
	}
	return raw, nil
}
