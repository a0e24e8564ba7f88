package usecase

import (
	"context"
	"errors"

	"QuorumFeed/internal/domain/models"
	applogger "QuorumFeed/pkg/logger"
	"QuorumFeed/pkg/queue"
)

// ConsensusJob evaluates a feed when enough submissions have accumulated.
// Running the evaluation off the submission path keeps submit latency flat
// and lets a crashed evaluation be retried from the queue.
type ConsensusJob struct {
	engine *ConsensusEngine
	l      *applogger.Logger
}

func NewConsensusJob(engine *ConsensusEngine, l *applogger.Logger) *ConsensusJob {
	return &ConsensusJob{engine: engine, l: l}
}

func (j *ConsensusJob) Name() string { return "consensus-evaluator" }

func (j *ConsensusJob) Type() string { return consensusJobType }

func (j *ConsensusJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[ConsensusJobPayload](payload)
	if err != nil {
		return err
	}

	res, err := j.engine.VerifyConsensus(ctx, p.FeedID)
	if err != nil {
		// Entries may have been evicted between enqueue and execution;
		// retrying cannot bring them back.
		if errors.Is(err, models.ErrNotEnoughEntries) {
			j.l.Debug("consensus job skipped", applogger.String("feed_id", p.FeedID), applogger.Error(err))
			return nil
		}
		return err
	}

	j.l.Info("consensus evaluated",
		applogger.String("feed_id", p.FeedID),
		applogger.Bool("consensus", res.Consensus),
		applogger.Int("verified", res.Verified),
		applogger.Int("agreement", res.Agreement),
	)
	return nil
}

var _ queue.Job = (*ConsensusJob)(nil)
