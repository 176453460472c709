package storage

import (
	"context"

	"feedKeeper/internal/model"
)

// DeadLetterSink is an append-only record of requests that exhausted their retries.
type DeadLetterSink interface {
	Record(ctx context.Context, letter model.DeadLetter) error
}

// ObservationSink stores decoded observations and the logs that failed to decode.
type ObservationSink interface {
	PutObservations(ctx context.Context, observations []model.Observation) error
	PutDecodeErrors(ctx context.Context, records []model.DecodeError) error
}
