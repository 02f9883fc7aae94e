package notifier

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Kind int

const (
	// Transient failures (network, rate limiting, destination unavailable) may succeed on retry.
	Transient Kind = iota
	// Permanent failures are rejections of the message itself; resending it would fail identically.
	Permanent
)

func (k Kind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

type DeliveryError struct {
	Kind       Kind
	RetryAfter time.Duration
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s delivery failure (retry after %s): %v", e.Kind, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("%s delivery failure: %v", e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func (e *DeliveryError) Permanent() bool {
	return e.Kind == Permanent
}

// IsPermanent reports whether err carries a permanent DeliveryError.
func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Permanent()
}

// classify maps a Bot API failure onto a DeliveryError. Only a 400 Bad Request that blames the message itself
// (malformed or oversized) is permanent. Every other failure, including 400s about the chat or the bot's rights,
// is transient so a misconfigured destination never burns items.
func classify(err error) *DeliveryError {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return classifyAPI(apiErr.Code, apiErr.Message, apiErr.RetryAfter, err)
	}

	var apiVal tgbotapi.Error
	if errors.As(err, &apiVal) {
		return classifyAPI(apiVal.Code, apiVal.Message, apiVal.RetryAfter, err)
	}

	return &DeliveryError{Kind: Transient, Err: err}
}

// messageFaults are Bot API descriptions of 400 responses caused by the message content.
var messageFaults = []string{
	"message is too long",
	"can't parse entities",
	"text must be non-empty",
	"message text is empty",
	"entities_too_long",
	"message_too_long",
}

func classifyAPI(code int, description string, retryAfter int, err error) *DeliveryError {
	de := &DeliveryError{Kind: Transient, Err: err}
	if code == http.StatusBadRequest && isMessageFault(description) {
		de.Kind = Permanent
	}
	if code == http.StatusTooManyRequests && retryAfter > 0 {
		de.RetryAfter = time.Duration(retryAfter) * time.Second
	}
	return de
}

func isMessageFault(description string) bool {
	description = strings.ToLower(description)
	for _, fault := range messageFaults {
		if strings.Contains(description, fault) {
			return true
		}
	}
	return false
}
