// Package alert delivers severe rainfall notifications to operators.
package alert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/kjstillabower/rainfall-advisory-service/internal/advisory"
)

// ErrDelivery is returned when one or more services rejected an alert.
var ErrDelivery = errors.New("alert delivery failed")

// Alert is one severe rainfall notification.
type Alert struct {
	Title      string
	Message    string
	RainfallMM float64
	Band       advisory.Band
	City       string
	At         time.Time
}

// FromAdvisory builds the alert for a classified prediction. city may be empty.
func FromAdvisory(a advisory.Advisory, rawMM float64, city string, at time.Time) Alert {
	msg := fmt.Sprintf("ALERT: predicted rainfall %s mm", advisory.FormatMM(rawMM))
	if city != "" {
		msg += " in " + city
	}
	msg += ". " + a.General
	return Alert{
		Title:      a.Title,
		Message:    msg,
		RainfallMM: a.RainfallMM,
		Band:       a.Band,
		City:       city,
		At:         at,
	}
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Nop discards alerts.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Alert) error { return nil }

// ShoutrrrNotifier fans an alert out to every configured service URL
// (e.g. "telegram://token@telegram?chats=..", "twilio://..", "slack://..").
type ShoutrrrNotifier struct {
	urls   []string
	sender *router.ServiceRouter
}

// NewShoutrrrNotifier validates urls and builds one sender for all of them.
func NewShoutrrrNotifier(urls []string, timeout time.Duration) (*ShoutrrrNotifier, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("at least one alert URL is required")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		// Service URLs embed credentials; do not echo them.
		return nil, fmt.Errorf("invalid alert URL configuration")
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrNotifier{urls: slices.Clone(urls), sender: sender}, nil
}

// Notify sends a to every service. It returns when all services have answered or ctx is done.
func (n *ShoutrrrNotifier) Notify(ctx context.Context, a Alert) error {
	params := stypes.Params{}
	if a.Title != "" {
		params.SetTitle(a.Title)
	}

	done := make(chan []error, 1)
	go func() { done <- n.sender.Send(a.Message, &params) }()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrDelivery, ctx.Err())
	case errs := <-done:
		failed := 0
		for _, e := range errs {
			if e != nil {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%w: %d of %d services failed", ErrDelivery, failed, len(n.urls))
		}
		return nil
	}
}

// Services returns the number of configured service URLs.
func (n *ShoutrrrNotifier) Services() int {
	return len(n.urls)
}
