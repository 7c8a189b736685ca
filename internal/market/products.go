package market

import "time"

// ProductSpec declares how a market generates its tradable windows for a
// round: Count consecutive windows of Duration each, the first starting
// FirstDelivery after the round opens.
type ProductSpec struct {
	Duration      time.Duration
	Count         int
	FirstDelivery time.Duration
	OnlyHours     bool
}

// Windows materializes the concrete product keys for a round opening at
// openAt.
func (s ProductSpec) Windows(openAt time.Time) []ProductKey {
	keys := make([]ProductKey, 0, s.Count)
	start := openAt.Add(s.FirstDelivery)
	for i := 0; i < s.Count; i++ {
		keys = append(keys, ProductKey{
			Start:     start,
			End:       start.Add(s.Duration),
			OnlyHours: s.OnlyHours,
		})
		start = start.Add(s.Duration)
	}
	return keys
}
