package messaging

import (
	"context"
	"time"

	"piperoute-system/internal/domain"

	"go.uber.org/zap"
)

// SnapshotPublisher forwards stepper snapshots to Redis pub/sub so other
// processes can render a run. Publish failures are logged, never returned.
type SnapshotPublisher struct {
	client  MessageClient
	timeout time.Duration
	logger  *zap.Logger
}

func NewSnapshotPublisher(client MessageClient, timeout time.Duration, logger *zap.Logger) *SnapshotPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	return &SnapshotPublisher{client: client, timeout: timeout, logger: logger}
}

func (p *SnapshotPublisher) Publish(snap domain.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.client.PublishSnapshot(ctx, snap); err != nil {
		p.logger.Warn("Snapshot publish failed",
			zap.String("run_id", snap.RunID),
			zap.Int("step", snap.Step),
			zap.Error(err))
	}
}
