package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Deposit is the vendor-neutral POS payload. TransactionID is the
// de-duplication key the POS is expected to honour.
type Deposit struct {
	TransactionID string  `json:"transaction_id"`
	StaffID       string  `json:"staff_id"`
	AmountMinor   int64   `json:"amount_minor"`
	ProductCode   *string `json:"product_code,omitempty"`
	TerminalID    string  `json:"terminal_id,omitempty"`
}

type Outcome string

const (
	OutcomeOK     Outcome = "ok"
	OutcomeQueued Outcome = "queued"
	OutcomeFailed Outcome = "failed"
)

// Response is a well-formed POS answer, accepted or not.
type Response struct {
	TransactionID string         `json:"transaction_id"`
	Status        string         `json:"status"`
	Description   string         `json:"description"`
	Timestamp     string         `json:"time_stamp"`
	Raw           map[string]any `json:"raw,omitempty"`
}

// Result is what the core records against the transaction.
type Result struct {
	Outcome  Outcome   `json:"outcome"`
	Response *Response `json:"response,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

type Adapter interface {
	Vendor() string
	// Send makes one attempt. A non-nil error means the POS could not be
	// reached or answered with something unparseable.
	Send(ctx context.Context, deposit Deposit) (*Response, error)
	Heartbeat(ctx context.Context) (*Response, error)
}

type AdapterConfig struct {
	BaseURL      string
	TCPAddr      string
	Timeout      time.Duration
	TerminalID   string
	SourceSystem string
	HTTP         *http.Client
}

type AdapterFactory interface {
	Vendor() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}

type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRetry   JobStatus = "retry"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
	// JobStatusExhausted jobs are skipped by the sweep; the deposit stays
	// queued until someone retries it by hand.
	JobStatusExhausted JobStatus = "exhausted"
)

// Job is a queued POS delivery, one per transaction id.
type Job struct {
	ID            int64          `gorm:"primaryKey" json:"id"`
	TransactionID string         `gorm:"type:varchar(64);not null;uniqueIndex:ux_pos_jobs_transaction" json:"transaction_id"`
	Vendor        string         `gorm:"type:varchar(32);not null" json:"vendor"`
	Payload       datatypes.JSON `gorm:"type:json;not null" json:"payload"`
	Status        string         `gorm:"type:varchar(16);not null;index" json:"status"`
	RetryCount    int            `gorm:"not null;default:0" json:"retry_count"`
	LastError     *string        `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt     time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
}

func (Job) TableName() string { return "pos_jobs" }

// ApplyFunc stores a sweep result against the transaction.
type ApplyFunc func(ctx context.Context, transactionID string, result Result) error

type SweepStats struct {
	Processed int `json:"processed"`
	Delivered int `json:"delivered"`
	Rejected  int `json:"rejected"`
	Retrying  int `json:"retrying"`
	Exhausted int `json:"exhausted"`
}

type Dispatcher interface {
	Enabled() bool
	Vendor() string
	// Dispatch sends once and enqueues the deposit on transport failure.
	Dispatch(ctx context.Context, deposit Deposit) Result
	Send(ctx context.Context, deposit Deposit) Result
	Enqueue(ctx context.Context, deposit Deposit, reason string) error
	// Retry is a manual resend that also settles any queued job for the
	// same transaction.
	Retry(ctx context.Context, deposit Deposit) Result
	ProcessPending(ctx context.Context, limit int, apply ApplyFunc) (SweepStats, error)
	Heartbeat(ctx context.Context) (*Response, error)
}

var (
	ErrVendorNotFound = errors.New("pos_vendor_not_found")
	ErrInvalidConfig  = errors.New("pos_invalid_config")
	ErrDisabled       = errors.New("pos_disabled")
	// ErrTransport wraps timeouts, refused connections and malformed replies.
	ErrTransport = errors.New("pos_transport")
)

func TransportError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}

type Repository interface {
	// Enqueue inserts job unless one exists for the transaction id.
	Enqueue(ctx context.Context, db *gorm.DB, job *Job) (bool, error)
	ListDue(ctx context.Context, db *gorm.DB, maxRetries, limit int) ([]Job, error)
	FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*Job, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, job *Job) error
	CountOpen(ctx context.Context, db *gorm.DB) (int64, error)
}
