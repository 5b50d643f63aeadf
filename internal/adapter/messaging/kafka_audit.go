package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-checkout/internal/core/domain"
	"github.com/rl1809/pos-checkout/internal/port"
)

const publishTimeout = 5 * time.Second

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

// AuditEvent is the JSON payload published for every audit entry.
type AuditEvent struct {
	TransactionID string      `json:"transaction_id"`
	InvoiceNo     string      `json:"invoice_no,omitempty"`
	RequestID     string      `json:"request_id,omitempty"`
	Status        string      `json:"status"`
	ErrorKind     string      `json:"error_kind,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	CustomerID    string      `json:"customer_id,omitempty"`
	PaymentMethod string      `json:"payment_method"`
	Lines         []AuditLine `json:"lines"`
	Subtotal      string      `json:"subtotal"`
	Discount      string      `json:"discount"`
	Tax           string      `json:"tax"`
	Total         string      `json:"total"`
	Actor         string      `json:"actor"`
	Terminal      string      `json:"terminal,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	RecordedAt    time.Time   `json:"recorded_at"`
}

type AuditLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

func NewAuditEvent(e domain.AuditEntry) AuditEvent {
	t := e.Transaction
	money := func(d decimal.Decimal) string { return d.StringFixed(domain.MoneyScale) }

	ev := AuditEvent{
		TransactionID: t.ID,
		InvoiceNo:     t.InvoiceNo,
		RequestID:     t.RequestID,
		Status:        string(t.Status),
		ErrorKind:     string(e.ErrorKind),
		Reason:        t.Reason,
		CustomerID:    t.CustomerID,
		PaymentMethod: string(t.PaymentMethod),
		Lines:         make([]AuditLine, 0, len(t.Lines)),
		Subtotal:      money(t.Subtotal),
		Discount:      money(t.Discount),
		Tax:           money(t.Tax),
		Total:         money(t.Total),
		Actor:         e.Actor,
		Terminal:      e.Terminal,
		CreatedAt:     t.CreatedAt.UTC(),
		RecordedAt:    e.RecordedAt.UTC(),
	}
	for _, l := range t.Lines {
		ev.Lines = append(ev.Lines, AuditLine{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: money(l.UnitPrice),
			LineTotal: money(l.LineTotal),
		})
	}
	return ev
}

// KafkaAuditLog appends to the durable log first and then publishes the
// entry to a topic keyed by transaction ID. The durable append decides the
// result; a failed publish is only logged.
type KafkaAuditLog struct {
	next   port.AuditLog
	writer MessageWriter
	logger *slog.Logger
}

func NewKafkaAuditLog(next port.AuditLog, writer MessageWriter, logger *slog.Logger) *KafkaAuditLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaAuditLog{next: next, writer: writer, logger: logger}
}

func (k *KafkaAuditLog) Append(ctx context.Context, entry domain.AuditEntry) error {
	if err := k.next.Append(ctx, entry); err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := k.publish(pubCtx, entry); err != nil {
		k.logger.Warn("publish audit event",
			"txid", entry.Transaction.ID, "status", string(entry.Transaction.Status), "error", err)
	}
	return nil
}

func (k *KafkaAuditLog) publish(ctx context.Context, entry domain.AuditEntry) error {
	data, err := json.Marshal(NewAuditEvent(entry))
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(entry.Transaction.ID),
		Value: data,
		Time:  entry.RecordedAt.UTC(),
	})
}

func (k *KafkaAuditLog) Close() error {
	return k.writer.Close()
}
