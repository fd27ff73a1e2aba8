package events

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes events as structured log lines.
type LogSink struct {
	Logger *zap.Logger
}

// Emit logs e at info level.
func (s LogSink) Emit(_ context.Context, e Event) {
	fields := []zap.Field{
		zap.String("kind", string(e.Kind)),
		zap.Uint64("auction_id", e.AuctionID),
	}
	if e.BidIndex != nil {
		fields = append(fields, zap.Int("bid_index", *e.BidIndex))
	}
	if e.Account != "" {
		fields = append(fields, zap.String("account", e.Account))
	}
	if e.Asset != "" {
		fields = append(fields, zap.String("asset", e.Asset), zap.Uint64("amount", e.Amount))
	}
	if e.Quantity != 0 {
		fields = append(fields, zap.Uint64("quantity", e.Quantity))
	}
	if e.Price != 0 {
		fields = append(fields, zap.Uint64("price", e.Price))
	}
	if e.RequestID != "" {
		fields = append(fields, zap.String("request_id", e.RequestID))
	}
	if e.Handle != "" {
		fields = append(fields, zap.String("ciphertext_handle", e.Handle))
	}
	s.Logger.Info("auction event", fields...)
}
