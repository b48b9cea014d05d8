package query

import (
	"applet-tester/internal/application/query/get_job_status"
	"applet-tester/internal/domain/repository"
	"applet-tester/pkg/cqrs"
	"applet-tester/pkg/log"
)

func RegisterQueryHandlers(b cqrs.QueryBus, platform repository.PlatformRepository) error {
	if err := b.Register(get_job_status.NewGetJobStatusQueryHandler(platform)); err != nil {
		return log.Errorf("failed to register get job status query handler: %w", err)
	}

	return nil
}
