package models

// SessionState tracks where a user's WhatsApp connection is in its lifecycle
type SessionState string

const (
	StateInitializing  SessionState = "INITIALIZING"
	StateQRPending     SessionState = "QR_PENDING"
	StateAuthenticated SessionState = "AUTHENTICATED"
	StateReady         SessionState = "READY"
	StateDisconnected  SessionState = "DISCONNECTED"
	StateAuthFailure   SessionState = "AUTH_FAILURE"
)

// SessionStatus is the wire shape returned by the status endpoint
type SessionStatus struct {
	Status      string `json:"status"`
	QRCode      string `json:"qr_code,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ServiceStatus reflects whether the messaging client for a user is usable
type ServiceStatus struct {
	Available bool   `json:"available"`
	Connected bool   `json:"connected"`
	Message   string `json:"message"`
}
