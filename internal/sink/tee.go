package sink

import (
	"context"

	"github.com/Widen/tap-gainsightpx/internal/extract"
)

// Tee fans every call out to several sinks in order, stopping at the first error.
type Tee []extract.Sink

var (
	_ extract.Sink          = Tee(nil)
	_ extract.Flusher       = Tee(nil)
	_ extract.StreamStarter = Tee(nil)
)

func (t Tee) StartStream(ctx context.Context, desc *extract.StreamDescriptor) error {
	for _, s := range t {
		if starter, ok := s.(extract.StreamStarter); ok {
			if err := starter.StartStream(ctx, desc); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t Tee) Emit(ctx context.Context, stream string, rec extract.Record) error {
	for _, s := range t {
		if err := s.Emit(ctx, stream, rec); err != nil {
			return err
		}
	}
	return nil
}

func (t Tee) Flush(ctx context.Context, stream string) error {
	for _, s := range t {
		if f, ok := s.(extract.Flusher); ok {
			if err := f.Flush(ctx, stream); err != nil {
				return err
			}
		}
	}
	return nil
}
