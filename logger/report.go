package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type componentTally struct {
	warns  int64
	errors int64
}

var (
	retryCount int64
	tallies    sync.Map // map[string]*componentTally
)

func recordWarn(component string) {
	tallyFor(component).add(1, 0)
}

func recordError(component string) {
	tallyFor(component).add(0, 1)
}

func tallyFor(component string) *componentTally {
	v, _ := tallies.LoadOrStore(component, &componentTally{})
	return v.(*componentTally)
}

func (t *componentTally) add(warns, errors int64) {
	atomic.AddInt64(&t.warns, warns)
	atomic.AddInt64(&t.errors, errors)
}

// IncrementRetryCount records one connection retry for the runtime report.
func IncrementRetryCount() {
	atomic.AddInt64(&retryCount, 1)
}

// StartReport begins periodic logging of process and component statistics.
// Tallies are cumulative for the process lifetime.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}
	memMB := int64(0)
	if memStats != nil {
		memMB = int64(memStats.Used) / 1024 / 1024
	}

	components := map[string]map[string]int64{}
	var totalWarns, totalErrors int64
	tallies.Range(func(k, v any) bool {
		name := k.(string)
		t := v.(*componentTally)
		warns := atomic.LoadInt64(&t.warns)
		errors := atomic.LoadInt64(&t.errors)
		components[name] = map[string]int64{"warns": warns, "errors": errors}
		totalWarns += warns
		totalErrors += errors
		return true
	})

	retries := atomic.LoadInt64(&retryCount)

	log.WithComponent("report").WithFields(Fields{
		"warns":       totalWarns,
		"errors":      totalErrors,
		"retries":     retries,
		"goroutines":  runtime.NumGoroutine(),
		"cpu_percent": cpuPct,
		"memory_mb":   memMB,
		"components":  components,
	}).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memMB))},
		{MetricName: aws.String("Warns"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(totalWarns))},
		{MetricName: aws.String("Errors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(totalErrors))},
		{MetricName: aws.String("ConnectionRetries"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(retries))},
	}
	for name, stats := range components {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String("ComponentErrors"),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{{Name: aws.String("Component"), Value: aws.String(name)}},
			Value:      aws.Float64(float64(stats["errors"])),
		})
	}

	publishMetrics(ctx, data)
}
