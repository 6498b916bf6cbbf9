package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oshokin/crashguard/internal/config"
	"github.com/oshokin/crashguard/internal/domain/alert"
	"github.com/oshokin/crashguard/internal/logger"
)

var (
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("dispatcher closed")
	// ErrNoRecipients is returned when there is nobody to notify.
	ErrNoRecipients = errors.New("no recipients configured")
)

// Sender delivers text messages. It is satisfied by *modem.Modem.
type Sender interface {
	// Connect establishes the link unless it is already up.
	Connect(ctx context.Context) error
	// SendSMS sends body to number and returns the raw device reply.
	SendSMS(ctx context.Context, number, body string) (string, error)
	// Close releases the device.
	Close() error
}

// RecipientResult is the outcome of one message.
type RecipientResult struct {
	// Recipient is the phone number.
	Recipient string
	// Success reports whether the network acknowledged the message.
	Success bool
	// Response is the raw device reply.
	Response string
	// Err is the failure cause, nil on success.
	Err error
}

// Result is the outcome of one dispatch.
type Result struct {
	// Source is the alert source the dispatch was made for.
	Source alert.Source
	// Connected reports whether a modem was available.
	Connected bool
	// Success is true only when every recipient succeeded.
	Success bool
	// Recipients holds one entry per attempted recipient, in configuration order.
	Recipients []RecipientResult
}

// Dispatcher sends alert messages from a single worker.
type Dispatcher struct {
	// sender is the modem.
	sender Sender
	// recipients are notified in order on every alert.
	recipients []string
	// identity fills the message body.
	identity config.Identity
	// queue holds alerts waiting for the worker.
	queue chan *alert.Event
	// onResult observes every finished dispatch.
	onResult func(ctx context.Context, result *Result, err error)

	// mu serialises Send and Close.
	mu sync.Mutex
	// closed is set by Close.
	closed bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithResultHandler sets a callback run by the worker after every dispatch.
func WithResultHandler(handler func(ctx context.Context, result *Result, err error)) Option {
	return func(d *Dispatcher) {
		d.onResult = handler
	}
}

// New creates a dispatcher for the recipients and queue size in cfg.
func New(sender Sender, cfg config.Modem, identity config.Identity, opts ...Option) *Dispatcher {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = config.DefaultQueueSize
	}

	d := &Dispatcher{
		sender:     sender,
		recipients: append([]string(nil), cfg.Recipients...),
		identity:   identity,
		queue:      make(chan *alert.Event, queueSize),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Notify queues event for the worker. It never blocks; a full queue drops the event.
func (d *Dispatcher) Notify(ctx context.Context, event *alert.Event) {
	select {
	case d.queue <- event.Clone():
		logger.DebugKV(ctx, "Alert queued for SMS dispatch", "source", event.Source)
	default:
		logger.ErrorKV(ctx, "SMS dispatch queue is full, alert dropped",
			"source", event.Source, "capacity", cap(d.queue))
	}
}

// Run sends queued alerts until ctx is cancelled. A send in progress is finished first.
func (d *Dispatcher) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "dispatch")

	logger.InfoKV(ctx, "SMS dispatcher running", "recipients", len(d.recipients))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-d.queue:
			sendCtx := context.WithoutCancel(ctx)

			result, err := d.Send(sendCtx, event)
			if d.onResult != nil {
				d.onResult(sendCtx, result, err)
			}
		}
	}
}

// Send delivers event to every recipient in order and reports per-recipient results.
// An error is returned only when nothing could be attempted.
func (d *Dispatcher) Send(ctx context.Context, event *alert.Event) (*Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	result := &Result{Source: event.Source}

	if d.closed {
		return result, ErrClosed
	}

	if len(d.recipients) == 0 {
		logger.Warn(ctx, "No SMS recipients configured, alert not sent")

		return result, ErrNoRecipients
	}

	if err := d.sender.Connect(ctx); err != nil {
		logger.ErrorKV(ctx, "SMS dispatch failed, modem unavailable", "source", event.Source, "error", err)

		return result, fmt.Errorf("connect modem: %w", err)
	}

	result.Connected = true
	result.Success = true
	body := Compose(event, d.identity)

	for _, recipient := range d.recipients {
		outcome := d.sendOne(ctx, recipient, body)
		if !outcome.Success {
			result.Success = false
		}

		result.Recipients = append(result.Recipients, outcome)
	}

	logger.InfoKV(ctx, "SMS dispatch finished",
		"source", event.Source, "recipients", len(result.Recipients), "success", result.Success)

	return result, nil
}

// Close waits for a send in progress and releases the modem.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}

	d.closed = true

	if err := d.sender.Close(); err != nil {
		return fmt.Errorf("close modem: %w", err)
	}

	return nil
}

func (d *Dispatcher) sendOne(ctx context.Context, recipient, body string) RecipientResult {
	outcome := RecipientResult{Recipient: recipient}

	// A previous recipient may have dropped the link.
	if err := d.sender.Connect(ctx); err != nil {
		outcome.Err = err
		logger.ErrorKV(ctx, "SMS not sent, modem unavailable", "recipient", recipient, "error", err)

		return outcome
	}

	outcome.Response, outcome.Err = d.sender.SendSMS(ctx, recipient, body)
	if outcome.Err != nil {
		logger.ErrorKV(ctx, "SMS failed", "recipient", recipient, "error", outcome.Err)

		return outcome
	}

	outcome.Success = true
	logger.InfoKV(ctx, "SMS sent", "recipient", recipient)

	return outcome
}
