package stream

import (
	"context"
	"strings"
)

// Collect drains a stream for non-streaming callers: it concatenates every
// TextDelta until MessageStop and returns the final usage if the provider
// reported one.
func Collect(ctx context.Context, s *Stream) (string, *Usage, error) {
	defer s.Close()

	var text strings.Builder
	var usage *Usage
	for {
		select {
		case r, ok := <-s.Events():
			if !ok {
				return text.String(), usage, nil
			}
			if r.Err != nil {
				return text.String(), usage, r.Err
			}
			switch evt := r.Event.(type) {
			case TextDelta:
				text.WriteString(evt.Text)
			case MessageDelta:
				if evt.Usage != nil {
					usage = evt.Usage
				}
			case MessageStop:
				return text.String(), usage, nil
			}
		case <-ctx.Done():
			return text.String(), usage, ctx.Err()
		}
	}
}
