// Package stats consumes a node's statistics push feed and turns the
// flat key/value map it publishes into typed queue and system stats.
package stats

import (
	"sort"
	"strconv"
	"strings"

	"github.com/EventStore/esdb-tui/pkg/view"
)

// Parse converts one raw stats map into per-queue and system stats.
// Queue keys look like "es-queue-{name}-{field}"; system keys are
// "sys-freeMem", "sys-loadavg-{1m,5m,15m}" and
// "sys-drive-{path}-usage". Unknown keys and unparsable values are
// skipped so one malformed entry never poisons the whole report.
func Parse(raw map[string]string) ([]view.QueueStat, view.SystemStat) {
	queues := make(map[string]*view.QueueStat)
	var system view.SystemStat

	for key, value := range raw {
		parts := strings.Split(key, "-")
		switch {
		case len(parts) >= 4 && parts[0] == "es" && parts[1] == "queue":
			name := parts[2]
			q, ok := queues[name]
			if !ok {
				q = &view.QueueStat{Name: name}
				queues[name] = q
			}
			applyQueueField(q, parts[3], value)
		case key == "sys-freeMem":
			system.FreeMem = parseInt(value)
		case key == "sys-loadavg-1m":
			system.LoadAvg1m = parseFloat(value)
		case key == "sys-loadavg-5m":
			system.LoadAvg5m = parseFloat(value)
		case key == "sys-loadavg-15m":
			system.LoadAvg15m = parseFloat(value)
		case len(parts) >= 3 && parts[0] == "sys" && parts[1] == "drive" && parts[len(parts)-1] == "usage":
			system.DiskUsage = parseFloat(strings.TrimSuffix(value, "%"))
		}
	}

	out := make([]view.QueueStat, 0, len(queues))
	for _, q := range queues {
		out = append(out, *q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, system
}

func applyQueueField(q *view.QueueStat, field, value string) {
	switch field {
	case "queueName":
		q.Name = value
	case "length":
		q.Length = parseInt(value)
	case "lengthCurrentTryPeak":
		q.LengthCurrentPeak = parseInt(value)
	case "lengthLifetimePeak":
		q.LengthLifetimePeak = parseInt(value)
	case "avgItemsPerSecond":
		q.AvgItemsPerSecond = parseFloat(value)
	case "currentIdleTime":
		q.CurrentIdleTime = value
	case "idleTimePercent":
		q.IdleTimePercent = parseFloat(value)
	case "totalItemsProcessed":
		q.TotalItemsProcessed = parseInt(value)
	case "inProgressMessage":
		q.InProgressMessage = value
	case "lastProcessedMessage":
		q.LastProcessedMessage = value
	case "groupName":
		q.GroupName = value
	}
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
