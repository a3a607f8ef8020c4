package weather

import (
	"sort"
	"time"
)

// AggregateDaily folds hourly steps into one Daily entry per local date.
// Temperatures keep the extremes; the condition is selected by majority
// (ties go to the earliest condition seen in the day).
func AggregateDaily(steps []Hourly, zone *time.Location) []Daily {
	if len(steps) == 0 {
		return nil
	}
	if zone == nil {
		zone = time.UTC
	}

	type bucket struct {
		day        Daily
		counts     map[Condition]int
		firstSeen  map[Condition]int
		seen       int
		hasReading bool
	}

	buckets := make(map[string]*bucket)
	for _, h := range steps {
		key := h.Time.In(zone).Format(DateLayout)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{
				day:       Daily{Date: key},
				counts:    make(map[Condition]int),
				firstSeen: make(map[Condition]int),
			}
			buckets[key] = b
		}

		if !b.hasReading || h.TemperatureC > b.day.MaxC {
			b.day.MaxC = h.TemperatureC
		}
		if !b.hasReading || h.TemperatureC < b.day.MinC {
			b.day.MinC = h.TemperatureC
		}
		b.hasReading = true

		if h.PrecipProbabilityPct > b.day.PrecipProbabilityPct {
			b.day.PrecipProbabilityPct = h.PrecipProbabilityPct
		}

		if h.Condition != "" && h.Condition != ConditionUnknown {
			if _, ok := b.firstSeen[h.Condition]; !ok {
				b.firstSeen[h.Condition] = b.seen
			}
			b.counts[h.Condition]++
			b.seen++
		}
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	days := make([]Daily, 0, len(keys))
	for _, k := range keys {
		b := buckets[k]

		// Pick majority condition.
		best := ConditionUnknown
		bestCount := 0
		for cond, count := range b.counts {
			if count > bestCount || (count == bestCount && b.firstSeen[cond] < b.firstSeen[best]) {
				bestCount = count
				best = cond
			}
		}
		b.day.Condition = best
		days = append(days, b.day)
	}
	return days
}
