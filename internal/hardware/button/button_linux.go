//go:build linux

package button

import (
	"context"
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"github.com/oshokin/crashguard/internal/config"
	"github.com/oshokin/crashguard/internal/logger"
)

// Button is a requested GPIO input line.
type Button struct {
	// line is the requested GPIO line.
	line *gpiocdev.Line
}

// Open requests the configured line with both-edge events and forwards them to handler.
// A button held at startup is not reported as a press.
func Open(ctx context.Context, cfg config.Button, handler Handler) (*Button, error) {
	if cfg.Line < 0 {
		return nil, ErrDisabled
	}

	ctx = logger.WithName(ctx, "button")

	options := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithConsumer(consumer),
		gpiocdev.WithBothEdges,
		gpiocdev.WithDebounce(cfg.Debounce),
	}

	if cfg.ActiveLow {
		options = append(options, gpiocdev.AsActiveLow, gpiocdev.WithPullUp)
	}

	// Events may arrive before the initial level is known; they are held until then.
	var (
		t     *tracker
		ready = make(chan struct{})
	)

	options = append(options, gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
		<-ready

		active := evt.Type == gpiocdev.LineEventRisingEdge
		logger.DebugKV(ctx, "Button edge", "active", active, "seqno", evt.Seqno)
		t.edge(active)
	}))

	line, err := gpiocdev.RequestLine(cfg.Chip, cfg.Line, options...)
	if err != nil {
		close(ready)

		return nil, fmt.Errorf("request %s line %d: %w", cfg.Chip, cfg.Line, err)
	}

	value, err := line.Value()
	if err != nil {
		logger.WarnKV(ctx, "Failed to read initial button level", "error", err)
	}

	t = newTracker(handler, value == 1)
	close(ready)

	logger.InfoKV(ctx, "Panic button ready",
		"chip", cfg.Chip, "line", cfg.Line, "active_low", cfg.ActiveLow, "pressed", value == 1)

	return &Button{line: line}, nil
}

// Close releases the line.
func (b *Button) Close() error {
	return b.line.Close()
}
