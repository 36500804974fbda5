// ABOUTME: Uniform response envelope returned for every tool invocation
// ABOUTME: An envelope is either a success payload or an error message, never both

package tools

// Content is one typed content block in an envelope.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Envelope is the uniform success/error wrapper for tool results.
// Absence of IsError implies success.
type Envelope struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// textEnvelope wraps text in a success envelope.
func textEnvelope(text string) *Envelope {
	return &Envelope{
		Content: []Content{{Type: "text", Text: text}},
	}
}

// errorEnvelope wraps a message in an error envelope.
func errorEnvelope(message string) *Envelope {
	return &Envelope{
		Content: []Content{{Type: "text", Text: message}},
		IsError: true,
	}
}
