package models

import "github.com/google/uuid"

// BusinessSettings holds contact data managed via the admin panel.
// There should be only one row.
type BusinessSettings struct {
	BaseModel
	WhatsAppNumber string `json:"whatsapp_number"`
	ContactPhone   string `json:"contact_phone"`
	ContactEmail   string `json:"contact_email"`
	Address        string `json:"address"`
	WorkingHours   string `json:"working_hours"`
	Currency       string `json:"currency"`
}

// NotificationLog records each outbound message attempt.
type NotificationLog struct {
	BaseModel
	ReservationID *uuid.UUID `gorm:"type:uuid;index" json:"reservation_id"`
	Channel       string     `json:"channel"`
	Recipient     string     `json:"recipient"`
	Message       string     `json:"message"`
	Status        string     `json:"status"`
	ErrorMessage  string     `json:"error_message"`
}
