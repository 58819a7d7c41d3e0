package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/genesis-provenance/genesis/internal/pkg/billing"
	"github.com/genesis-provenance/genesis/internal/pkg/statement"
)

// StatementScheduler enqueues a statement job whenever a billing period
// closes.
type StatementScheduler struct {
	queue *Queue
}

func NewStatementScheduler(queue *Queue) *StatementScheduler {
	return &StatementScheduler{queue: queue}
}

func (s *StatementScheduler) ScheduleStatement(ctx context.Context, orgID uint, period billing.Period) error {
	payload := UsageStatementJobPayload{
		OrganizationID: orgID,
		PeriodStart:    period.Start,
		PeriodEnd:      period.End,
	}
	_, err := s.queue.Enqueue(ctx, JobTypeUsageStatement, payload.ToMap())
	return err
}

type StatementGenerator interface {
	Generate(ctx context.Context, orgID uint, period billing.Period) (statement.Result, error)
}

// StatementHandler builds and archives the statement described by a job.
func StatementHandler(gen StatementGenerator) Handler {
	return func(ctx context.Context, job *Job) error {
		payload, err := UsageStatementJobPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("invalid statement payload: %w", err)
		}
		res, err := gen.Generate(ctx, payload.OrganizationID, billing.Period{Start: payload.PeriodStart, End: payload.PeriodEnd})
		if err != nil {
			return err
		}
		log.Infof("[JobQueue] Statement for organization %d ready (%d entries, key=%q)", payload.OrganizationID, res.Entries, res.Key)
		return nil
	}
}
