package broadcast

import (
	"context"
	"fmt"

	"github.com/DoyleJ11/drawsync/internal/drawing"
	"github.com/DoyleJ11/drawsync/internal/transport"
	"github.com/DoyleJ11/drawsync/pkg/types"
)

// Publisher sends a participant's own drawing events.
type Publisher struct {
	pub transport.Publisher
}

func NewPublisher(pub transport.Publisher) *Publisher {
	return &Publisher{pub: pub}
}

func (p *Publisher) Line(ctx context.Context, l drawing.Line) error {
	buf := drawing.EncodeLine(l)
	if err := p.pub.Publish(ctx, types.TopicDrawLine, buf[:]); err != nil {
		return fmt.Errorf("publish line: %w", err)
	}
	return nil
}

func (p *Publisher) Clear(ctx context.Context) error {
	if err := p.pub.Publish(ctx, types.TopicClearDrawing, []byte{}); err != nil {
		return fmt.Errorf("publish clear: %w", err)
	}
	return nil
}
