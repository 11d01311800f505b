package domain

// Address is an email address with an optional display name.
type Address struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// Attachment is a file attached to a Message. Attachments are carried in
// memory through the immediate send path; the repository does not persist
// them, so records dispatched later by the worker go out without them.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is the in-memory, not-yet-persisted representation of an email to
// send. Application code builds a Message, optionally renders its bodies from
// templates, and hands it to the mailer for sending or scheduling.
type Message struct {
	Subject     string
	Sender      Address
	Recipients  []string // ordered; one EmailRecord is persisted per entry
	Text        string
	HTML        string
	Attachments []Attachment
}

// NewMessage builds a Message from its parts.
func NewMessage(subject string, sender Address, recipients []string, text, html string) *Message {
	return &Message{
		Subject:    subject,
		Sender:     sender,
		Recipients: recipients,
		Text:       text,
		HTML:       html,
	}
}

// Attach appends an attachment to the message.
func (m *Message) Attach(filename, contentType string, data []byte) {
	m.Attachments = append(m.Attachments, Attachment{
		Filename:    filename,
		ContentType: contentType,
		Data:        data,
	})
}
