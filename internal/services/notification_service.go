package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/limpio/internal/models"
)

// NotificationService fans reservation events out to the customer (SMS or
// WhatsApp) and to the admin Telegram chat. Every attempt is written to
// notification_logs. Failures never propagate to the caller's flow.
type NotificationService struct {
	db       *gorm.DB
	log      *zap.Logger
	sender   MessageSender
	telegram *TelegramService
	currency string
}

// NewNotificationService constructs NotificationService. sender and
// telegram may be nil.
func NewNotificationService(db *gorm.DB, log *zap.Logger, sender MessageSender, telegram *TelegramService, currency string) *NotificationService {
	if currency == "" {
		currency = "COP"
	}
	return &NotificationService{db: db, log: log, sender: sender, telegram: telegram, currency: currency}
}

// FormatPrice formats price with currency and dot thousand separators.
func FormatPrice(amount float64, currency string) string {
	return "$" + humanize.FormatFloat("#.###,", amount) + " " + currency
}

// ReservationCreated confirms the booking to the customer and alerts the admins.
// r must carry User, Service and Address.
func (n *NotificationService) ReservationCreated(ctx context.Context, r models.Reservation) {
	customer := fmt.Sprintf(
		"Hola %s, recibimos tu reserva %s para %s el %s. Total: %s. Te confirmaremos pronto.",
		userName(r.User), r.Code, r.DisplayName,
		r.ScheduledAt.Format("02/01/2006 15:04"), FormatPrice(r.FinalPrice, n.currency),
	)
	if r.User != nil {
		n.sendCustomer(ctx, &r.ID, r.User.Phone, customer)
	}

	var addr string
	if r.Address != nil {
		addr = r.Address.OneLine()
	}
	admin := fmt.Sprintf(`<b>🧹 NUEVA RESERVA</b>
<b>📋 Código:</b> %s
<b>🧾 Servicio:</b> %s
<b>👤 Cliente:</b> %s
<b>📞 Teléfono:</b> %s
<b>📅 Fecha:</b> %s
<b>📍 Dirección:</b> %s
<b>💰 Total:</b> %s`,
		html.EscapeString(r.Code), html.EscapeString(r.DisplayName),
		html.EscapeString(userName(r.User)), html.EscapeString(userPhone(r.User)),
		r.ScheduledAt.Format("02/01/2006 15:04"), html.EscapeString(addr),
		FormatPrice(r.FinalPrice, n.currency),
	)
	n.sendAdmin(ctx, &r.ID, admin)
}

// ReservationStatusChanged tells the customer about a new status.
func (n *NotificationService) ReservationStatusChanged(ctx context.Context, r models.Reservation) {
	if r.User == nil {
		return
	}

	var text string
	switch r.Status {
	case models.StatusInProgress:
		text = "Tu servicio %s está en curso."
	case models.StatusCompleted:
		text = "Tu servicio %s fue completado. ¡Gracias por confiar en nosotros!"
	case models.StatusCancelled:
		text = "Tu reserva %s fue cancelada."
	default:
		return
	}
	n.sendCustomer(ctx, &r.ID, r.User.Phone, fmt.Sprintf(text, r.Code))
}

// ReservationReminder sends the day-before reminder.
func (n *NotificationService) ReservationReminder(ctx context.Context, r models.Reservation) {
	if r.User == nil {
		return
	}
	text := fmt.Sprintf("Recordatorio: tu servicio %s (%s) está programado para mañana a las %s.",
		r.DisplayName, r.Code, r.ScheduledAt.Format("15:04"))
	n.sendCustomer(ctx, &r.ID, r.User.Phone, text)
}

// SendResetCode delivers a password reset code. Unlike reservation events
// the caller needs to know whether it went out.
func (n *NotificationService) SendResetCode(ctx context.Context, phone, code string) error {
	text := fmt.Sprintf("Tu código de verificación es %s. Vence en 10 minutos.", code)
	if n.sender == nil {
		return errMessagingDisabled
	}
	channel, err := n.sender.Send(ctx, phone, text)
	n.record(nil, channel, phone, "password reset code", err)
	return err
}

func (n *NotificationService) sendCustomer(ctx context.Context, reservationID *uuid.UUID, phone, text string) {
	if n.sender == nil || phone == "" {
		return
	}
	channel, err := n.sender.Send(ctx, phone, text)
	if errors.Is(err, errMessagingDisabled) {
		n.log.Debug("customer messaging disabled", zap.String("to", phone))
		return
	}
	if err != nil {
		n.log.Warn("customer notification failed", zap.String("to", phone), zap.Error(err))
	}
	n.record(reservationID, channel, phone, text, err)
}

func (n *NotificationService) sendAdmin(ctx context.Context, reservationID *uuid.UUID, text string) {
	if !n.telegram.Enabled() {
		return
	}
	err := n.telegram.SendToAdmin(ctx, strings.TrimSpace(text))
	if err != nil {
		n.log.Warn("telegram notification failed", zap.Error(err))
	}
	n.record(reservationID, ChannelTelegram, n.telegram.adminChatID, text, err)
}

func (n *NotificationService) record(reservationID *uuid.UUID, channel, recipient, message string, sendErr error) {
	entry := models.NotificationLog{
		ReservationID: reservationID,
		Channel:       channel,
		Recipient:     recipient,
		Message:       message,
		Status:        "sent",
	}
	if sendErr != nil {
		entry.Status = "failed"
		entry.ErrorMessage = sendErr.Error()
		if len(entry.ErrorMessage) > 1024 {
			entry.ErrorMessage = entry.ErrorMessage[:1024]
		}
	}
	if err := n.db.Create(&entry).Error; err != nil {
		n.log.Error("failed to write notification log", zap.Error(err))
	}
}

func userName(u *models.User) string {
	if u == nil || u.FullName() == "" {
		return "cliente"
	}
	return u.FullName()
}

func userPhone(u *models.User) string {
	if u == nil {
		return "-"
	}
	return u.Phone
}
