package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	raw := map[string]string{
		"es-queue-mainq-length":               "12",
		"es-queue-mainq-lengthCurrentTryPeak": "40",
		"es-queue-mainq-lengthLifetimePeak":   "173",
		"es-queue-mainq-avgItemsPerSecond":    "245.5",
		"es-queue-mainq-currentIdleTime":      "00:00:01.374",
		"es-queue-mainq-idleTimePercent":      "98.2",
		"es-queue-mainq-totalItemsProcessed":  "144299",
		"es-queue-mainq-queueName":            "MainQueue",
		"es-queue-mainq-groupName":            "main",
		"es-queue-mainq-inProgressMessage":    "WriteEvents",
		"es-queue-mainq-lastProcessedMessage": "ReadStreamEventsForward",
		"es-queue-writer-length":              "3",
		"sys-freeMem":                         "8589934592",
		"sys-loadavg-1m":                      "0.42",
		"sys-loadavg-5m":                      "0.37",
		"sys-loadavg-15m":                     "0.31",
		"sys-drive-/var/lib/esdb-usage":       "63%",
	}

	queues, system := Parse(raw)

	require.Len(t, queues, 2)
	assert.Equal(t, "writer", queues[1].Name, "queues are sorted by name")

	main := queues[0]
	assert.Equal(t, "MainQueue", main.Name, "queueName overrides the key-derived name")
	assert.Equal(t, int64(12), main.Length)
	assert.Equal(t, int64(40), main.LengthCurrentPeak)
	assert.Equal(t, int64(173), main.LengthLifetimePeak)
	assert.InDelta(t, 245.5, main.AvgItemsPerSecond, 0.001)
	assert.Equal(t, "00:00:01.374", main.CurrentIdleTime)
	assert.InDelta(t, 98.2, main.IdleTimePercent, 0.001)
	assert.Equal(t, int64(144299), main.TotalItemsProcessed)
	assert.Equal(t, "WriteEvents", main.InProgressMessage)
	assert.Equal(t, "ReadStreamEventsForward", main.LastProcessedMessage)
	assert.Equal(t, "main", main.GroupName)

	assert.Equal(t, int64(8589934592), system.FreeMem)
	assert.InDelta(t, 0.42, system.LoadAvg1m, 0.001)
	assert.InDelta(t, 0.37, system.LoadAvg5m, 0.001)
	assert.InDelta(t, 0.31, system.LoadAvg15m, 0.001)
	assert.InDelta(t, 63.0, system.DiskUsage, 0.001)
}

func TestParseSkipsMalformedEntries(t *testing.T) {
	queues, system := Parse(map[string]string{
		"es-queue-mainq-length": "not a number",
		"es-queue":              "truncated key",
		"sys-freeMem":           "???",
		"unrelated":             "1",
	})

	require.Len(t, queues, 1)
	assert.Zero(t, queues[0].Length)
	assert.Zero(t, system.FreeMem)
}

func TestParseEmpty(t *testing.T) {
	queues, system := Parse(nil)
	assert.Empty(t, queues)
	assert.Zero(t, system)
}
