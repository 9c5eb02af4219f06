package config

import (
	"github.com/garyjia/expense-approval/internal/container"
)

// ToContainerConfig maps the file layout onto what the container wires.
// The scheduler section becomes the escalation worker and the redelivery
// settings move from notification to worker.
func (c *Config) ToContainerConfig() *container.Config {
	cc := container.DefaultConfig()

	cc.Database = container.DatabaseConfig{Config: c.Database.Options(), AutoMigrate: c.Database.AutoMigrate}
	cc.Lark = container.LarkConfig(c.Lark)
	cc.Approval = container.ApprovalConfig(c.Approval)

	cc.Worker.EscalationEnabled = c.Scheduler.Enabled
	cc.Worker.EscalationInterval = c.Scheduler.Interval
	cc.Worker.EscalationBatchSize = c.Scheduler.BatchSize
	cc.Worker.RedeliverInterval = c.Notification.RedeliverInterval
	cc.Worker.RedeliverBatchSize = c.Notification.RedeliverBatchSize

	cc.Notification.RatePerMinute = c.Notification.RatePerMinute
	cc.Notification.MaxAttempts = c.Notification.MaxAttempts
	cc.Notification.RedeliverAfter = c.Notification.RedeliverAfter
	return cc
}
