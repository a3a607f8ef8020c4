package weather

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateDaily(t *testing.T) {
	base := time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC)
	steps := []Hourly{
		{Time: base, TemperatureC: 8, Condition: ConditionRain, PrecipProbabilityPct: 40},
		{Time: base.Add(time.Hour), TemperatureC: 6, Condition: ConditionCloudy},
		{Time: base.Add(2 * time.Hour), TemperatureC: 5, Condition: ConditionClear, PrecipProbabilityPct: 10},
		{Time: base.Add(3 * time.Hour), TemperatureC: 9, Condition: ConditionClear},
	}

	days := AggregateDaily(steps, time.UTC)
	require.Len(t, days, 2)

	assert.Equal(t, "2024-05-01", days[0].Date)
	assert.Equal(t, 8.0, days[0].MaxC)
	assert.Equal(t, 6.0, days[0].MinC)
	assert.Equal(t, ConditionRain, days[0].Condition, "ties go to the earliest condition")
	assert.Equal(t, 40.0, days[0].PrecipProbabilityPct)

	assert.Equal(t, "2024-05-02", days[1].Date)
	assert.Equal(t, 9.0, days[1].MaxC)
	assert.Equal(t, 5.0, days[1].MinC)
	assert.Equal(t, ConditionClear, days[1].Condition)
}

func TestAggregateDailyUsesZone(t *testing.T) {
	oslo, err := time.LoadLocation("Europe/Oslo")
	require.NoError(t, err)

	steps := []Hourly{{Time: time.Date(2024, 5, 1, 22, 30, 0, 0, time.UTC), TemperatureC: 4}}
	days := AggregateDaily(steps, oslo)
	require.Len(t, days, 1)
	assert.Equal(t, "2024-05-02", days[0].Date)
	assert.Equal(t, ConditionUnknown, days[0].Condition)
}

func TestAggregateDailyEmpty(t *testing.T) {
	assert.Nil(t, AggregateDaily(nil, time.UTC))
}
