package notification

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/Domenick1991/roombooking/config"
	"github.com/Domenick1991/roombooking/internal/delivery"
	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/Domenick1991/roombooking/internal/email"
	"github.com/Domenick1991/roombooking/internal/idgen"
	"github.com/Domenick1991/roombooking/internal/repository"
	"github.com/sirupsen/logrus"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const (
	defaultRoomName = "Conference Room"
	timeLayout      = "Mon, 02 Jan 2006 15:04 MST"
)

type BookingReader interface {
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
}

type Dispatcher struct {
	bookings BookingReader
	records  repository.NotificationRepository
	channel  email.Channel
	ids      idgen.Generator
	cfg      config.NotificationConfig
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewDispatcher(
	bookings BookingReader,
	records repository.NotificationRepository,
	channel email.Channel,
	ids idgen.Generator,
	cfg config.NotificationConfig,
	logger logrus.FieldLogger,
) *Dispatcher {
	return &Dispatcher{
		bookings: bookings,
		records:  records,
		channel:  channel,
		ids:      ids,
		cfg:      cfg,
		log:      logger,
		now:      time.Now,
	}
}

type message struct {
	BookingID     string
	PaymentID     string
	Room          string
	Start         string
	End           string
	Amount        string
	PaymentStatus string
	Refunded      bool
	AdminEmail    string
	Year          int
}

// Handle is the delivery.Handler for the booking events topic.
func (d *Dispatcher) Handle(ctx context.Context, payload []byte) error {
	var event domain.LifecycleEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return delivery.Permanent(fmt.Errorf("%w: decode lifecycle event: %v", domain.ErrValidation, err))
	}
	return d.Dispatch(ctx, event)
}

// Dispatch renders the event for the booking owner and sends it. Every attempt is recorded.
// The booking itself is never touched here.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.LifecycleEvent) error {
	entry := d.log.WithFields(logrus.Fields{"booking_id": event.BookingID, "type": event.Type})

	booking, err := d.bookings.GetByID(ctx, event.BookingID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return delivery.Permanent(err)
		}
		return fmt.Errorf("%w: load booking %s: %v", domain.ErrTransientDependency, event.BookingID, err)
	}

	subject, body, err := d.render(event, booking)
	if err != nil {
		return delivery.Permanent(err)
	}

	recipients := []string{booking.UserEmail}
	if d.copyAdmin(event.Type) && d.cfg.AdminEmail != "" && d.cfg.AdminEmail != booking.UserEmail {
		recipients = append(recipients, d.cfg.AdminEmail)
	}

	var failed []error
	for _, to := range recipients {
		if err := d.send(ctx, event, booking, to, subject, body); err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		entry.WithField("failed", len(failed)).Warn("notification not delivered")
		return fmt.Errorf("%w: %v", domain.ErrTransientDependency, errors.Join(failed...))
	}

	entry.WithField("recipients", len(recipients)).Info("notification sent")
	return nil
}

func (d *Dispatcher) send(ctx context.Context, event domain.LifecycleEvent, booking *domain.Booking, to, subject, body string) error {
	record := &domain.NotificationRecord{
		ID:        d.ids.NewID(),
		Type:      event.Type,
		UserID:    booking.UserID,
		Email:     to,
		BookingID: booking.ID,
		Status:    domain.NotificationSent,
		SentAt:    d.now().UTC(),
	}

	messageID, sendErr := d.channel.Send(ctx, to, subject, body)
	if sendErr != nil {
		record.Status = domain.NotificationFailed
		record.Error = sendErr.Error()
	} else {
		record.MessageID = messageID
	}

	// запись для аудита не должна ронять доставку
	if err := d.records.Create(context.WithoutCancel(ctx), record); err != nil {
		d.log.WithError(err).WithField("booking_id", booking.ID).Error("notification record not saved")
	}
	return sendErr
}

func (d *Dispatcher) copyAdmin(t domain.EventType) bool {
	return t == domain.EventBookingConfirmed || t == domain.EventBookingCancelled
}

func (d *Dispatcher) render(event domain.LifecycleEvent, booking *domain.Booking) (string, string, error) {
	room := booking.RoomName
	if room == "" {
		room = defaultRoomName
	}

	var subject string
	switch event.Type {
	case domain.EventBookingConfirmed:
		subject = "Booking Confirmed - " + room
	case domain.EventBookingCancelled:
		subject = "Booking Cancelled - " + room
	case domain.EventBookingReminder:
		subject = "Reminder: " + room + " booking"
	case domain.EventPaymentReceipt:
		subject = "Payment Receipt - " + room
	default:
		return "", "", fmt.Errorf("%w: unknown event type %q", domain.ErrValidation, event.Type)
	}

	amount, currency := event.AmountCents, event.Currency
	if amount == 0 {
		amount, currency = booking.TotalCents, booking.Currency
	}
	paymentStatus := string(booking.PaymentStatus)
	if paymentStatus == "" {
		paymentStatus = "pending"
	}

	data := message{
		BookingID:     booking.ID,
		PaymentID:     event.PaymentID,
		Room:          room,
		Start:         booking.StartTime.UTC().Format(timeLayout),
		End:           booking.EndTime.UTC().Format(timeLayout),
		Amount:        FormatAmount(amount, currency),
		PaymentStatus: paymentStatus,
		Refunded:      booking.PaymentStatus == domain.PaymentStatusRefunded,
		AdminEmail:    d.cfg.AdminEmail,
		Year:          d.now().Year(),
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, string(event.Type)+".html", data); err != nil {
		return "", "", fmt.Errorf("render %s: %w", event.Type, err)
	}
	return subject, buf.String(), nil
}

// FormatAmount renders cents as "440.00 USD".
func FormatAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, currency)
}
