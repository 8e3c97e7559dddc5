package storage

const (
	// MinuteSeconds is the check period and healthcheck timestamp alignment.
	MinuteSeconds = 60
	// DaySeconds is the history timestamp alignment.
	DaySeconds = 86400
)

// HistoryRecord is the aggregated uptime of one service over one day.
type HistoryRecord struct {
	ServiceID uint64
	Day       int64
	Uptime    int64
}

// MinuteStart truncates a unix timestamp to the start of its minute.
func MinuteStart(ts int64) int64 {
	return ts - ts%MinuteSeconds
}

// DayStart truncates a unix timestamp to the start of its UTC day.
func DayStart(ts int64) int64 {
	return ts - ts%DaySeconds
}
