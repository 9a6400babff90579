package models

import (
	"encoding/json"
	"fmt"
)

// SendTextRequest is the body of POST /api/send/:userId
type SendTextRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// ButtonSpec is one reply button. The frontend sends either a bare string
// (the button text) or an object with explicit id/body, so unmarshalling
// accepts both.
type ButtonSpec struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

func (b *ButtonSpec) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		b.ID = ""
		b.Body = text
		return nil
	}

	var obj struct {
		ID   string `json:"id"`
		Body string `json:"body"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("button must be a string or an object with a body: %w", err)
	}
	b.ID = obj.ID
	b.Body = obj.Body
	if b.Body == "" {
		b.Body = obj.Text
	}
	return nil
}

// SendButtonRequest is the body of POST /api/send-button/:userId
type SendButtonRequest struct {
	Phone     string       `json:"phone"`
	Message   string       `json:"message"`
	Buttons   []ButtonSpec `json:"buttons"`
	Footer    string       `json:"footer"`
	Media     string       `json:"media"`     // base64 payload or data URL
	MediaType string       `json:"mediaType"` // mime type, defaults to image/jpeg
}

// ListRow is one selectable row inside a list message section
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ListSection groups rows under an optional section title
type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

// SendListRequest is the body of POST /api/send-list/:userId
type SendListRequest struct {
	Phone       string        `json:"phone"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	ButtonText  string        `json:"buttonText"`
	Sections    []ListSection `json:"sections"`
	Footer      string        `json:"footer"`
}

// ContactPayload is the contact card data inside a send-contact request
type ContactPayload struct {
	Name        string `json:"name"`
	Number      string `json:"number"`
	DisplayName string `json:"displayName"`
}

// SendContactRequest is the body of POST /api/send-contact/:userId
type SendContactRequest struct {
	Phone   string         `json:"phone"`
	Contact ContactPayload `json:"contact"`
}
