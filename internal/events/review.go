package events

import (
	"context"

	"github.com/ruralpay/tourwallet/internal/models"
)

// ReviewSink receives held transactions for operator review
type ReviewSink interface {
	Submit(ctx context.Context, tx *models.Transaction) error
}

// PublisherReviewSink forwards held transactions as review requests on the
// events exchange
type PublisherReviewSink struct {
	publisher Publisher
}

func NewReviewSink(publisher Publisher) *PublisherReviewSink {
	return &PublisherReviewSink{publisher: publisher}
}

func (s *PublisherReviewSink) Submit(ctx context.Context, tx *models.Transaction) error {
	event := FromTransaction(tx)
	event.Type = ReviewRequested
	return s.publisher.Publish(ctx, event)
}
