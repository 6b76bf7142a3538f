package llm

import (
	"context"
	"errors"
)

// Registry: клиенты провайдеров, собранные один раз при старте и переданные оркестратору.
type Registry struct {
	Text   TextClient
	Vision VisionClient
	Speech SpeechClient
}

type Availability struct {
	Text   bool `json:"text"`
	Vision bool `json:"vision"`
	Speech bool `json:"speech"`
}

func (r *Registry) Availability(ctx context.Context) Availability {
	var a Availability
	if r.Text != nil {
		a.Text = r.Text.IsAvailable(ctx)
	}
	if r.Vision != nil {
		a.Vision = r.Vision.IsAvailable(ctx)
	}
	if r.Speech != nil {
		a.Speech = r.Speech.IsAvailable(ctx)
	}
	return a
}

// EnsureReady готовит все клиенты, которые это поддерживают. Ошибки собираются, а не прерывают.
func (r *Registry) EnsureReady(ctx context.Context) error {
	var errs []error
	for _, c := range []any{r.Text, r.Vision, r.Speech} {
		if p, ok := c.(Preparer); ok && c != nil {
			if err := p.EnsureReady(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
