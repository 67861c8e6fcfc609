package domain

// JobSendResetEmail es el nombre del job que entrega el OTP de reseteo.
const JobSendResetEmail = "sendResetEmail"

// MailPayload es el contenido de un job de notificacion por email.
type MailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`
}
