package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk-engine/internal/service"
)

// StartNotificationWorker registers notification handlers.
func StartNotificationWorker(notificationService *service.NotificationService) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
}

// StartSweepWorker schedules the periodic sweep and, when runOnStart is set,
// runs one pass in the background right away. The returned stop func halts
// the schedule.
func StartSweepWorker(ctx context.Context, coordinator *service.SweepCoordinator, runOnStart bool, logger *zap.Logger) (func(), error) {
	if err := coordinator.Start(ctx); err != nil {
		return nil, err
	}
	if runOnStart {
		go func() {
			report, err := coordinator.RunSweep(ctx)
			if err != nil {
				logger.Warn("startup sweep finished with errors", zap.Error(err))
				return
			}
			logger.Info("startup sweep finished",
				zap.Int("escalations_fired", report.EscalationsFired),
				zap.Int("configs_expired", report.ConfigsExpired))
		}()
	}
	return coordinator.Stop, nil
}
