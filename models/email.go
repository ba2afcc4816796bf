package models

// OutgoingAttachment is an uploaded file to include in a composed message.
type OutgoingAttachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Compose holds the fields of a message being saved as a draft or sent.
type Compose struct {
	To          string
	Subject     string
	Body        string
	Attachments []OutgoingAttachment
}

// AttachmentNames lists the filenames in upload order.
func (c Compose) AttachmentNames() []string {
	names := make([]string, 0, len(c.Attachments))
	for _, a := range c.Attachments {
		names = append(names, a.Filename)
	}
	return names
}

type DraftSummary struct {
	Subject     string   `json:"subject"`
	To          string   `json:"to"`
	Sender      string   `json:"sender"`
	SenderEmail string   `json:"senderEmail"`
	Body        Body     `json:"body"`
	Attachments []string `json:"attachments"`
}

type SendReceipt struct {
	To               string    `json:"to"`
	Subject          string    `json:"subject"`
	MessageID        MessageID `json:"messageId"`
	AttachmentsCount int       `json:"attachments_count"`
	SavedToSent      bool      `json:"saved_to_sent"`
}

type DeleteResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Deleted int    `json:"deleted"`
}
