package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/stopro/ai-taskqueue/internal/models"
)

type OCRResult struct {
	Text       string   `json:"text"`
	Math       []string `json:"math"`
	Confidence float64  `json:"confidence"`
}

// OCREngine recognizes text and math expressions in a solution image.
type OCREngine interface {
	Recognize(ctx context.Context, image []byte) (OCRResult, error)
}

// StubOCR stands in for a real model: after Delay it returns the same
// result for every image.
type StubOCR struct {
	Delay time.Duration
}

func (s StubOCR) Recognize(ctx context.Context, _ []byte) (OCRResult, error) {
	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return OCRResult{}, ctx.Err()
		case <-t.C:
		}
	}
	return OCRResult{
		Text:       "2x + 4 = 10",
		Math:       []string{"2x + 4 = 10"},
		Confidence: 0.95,
	}, nil
}

// processSolutionImage(image_bytes); the image travels base64-encoded.
func processSolutionImage(engine OCREngine) func(context.Context, models.Arguments) (any, error) {
	return func(ctx context.Context, args models.Arguments) (any, error) {
		var image []byte
		if err := decodeArg(args, 0, "image_bytes", &image); err != nil {
			return nil, err
		}
		res, err := engine.Recognize(ctx, image)
		if err != nil {
			return nil, err
		}
		if res.Confidence < 0 || res.Confidence > 1 {
			return nil, errors.New("ocr confidence out of range")
		}
		return res, nil
	}
}
