package models

import "time"

const (
	StatusPending = "pending"
	StatusSynced  = "synced"
	StatusFailed  = "failed"
)

const (
	FrequencyHourly = "hourly"
	FrequencyDaily  = "daily"
	FrequencyWeekly = "weekly"
	FrequencyManual = "manual"
)

const (
	// DefaultBatchSize максимальное число записей за один цикл диспетчеризации
	DefaultBatchSize = 20

	// DefaultClaimTTL время жизни аренды записи воркером
	DefaultClaimTTL = 2 * time.Minute

	// DefaultDeliveryTimeout таймаут одного вызова адаптера
	DefaultDeliveryTimeout = 30 * time.Second

	// DefaultMaxAttempts предел попыток доставки до перманентного отказа
	DefaultMaxAttempts = 5

	// DefaultSchedulerTick интервал опроса планировщика
	DefaultSchedulerTick = time.Minute
)

// FrequencyInterval maps a sync frequency to its dispatch interval.
// Manual (and unknown) frequencies return 0: never due on timer.
func FrequencyInterval(frequency string) time.Duration {
	switch frequency {
	case FrequencyHourly:
		return time.Hour
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// ValidFrequency reports whether the value is one of the supported
// sync frequencies.
func ValidFrequency(frequency string) bool {
	switch frequency {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyManual:
		return true
	}
	return false
}

// ValidStatus reports whether the value is a known record status.
func ValidStatus(status string) bool {
	switch status {
	case StatusPending, StatusSynced, StatusFailed:
		return true
	}
	return false
}
