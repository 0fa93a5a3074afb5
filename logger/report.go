package logger

import (
	"context"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

var (
	errorsSweep  int64
	errorsLookup int64
	warnsSweep   int64
	warnsLookup  int64
	cellsDone    int64
	rowsWritten  int64
	lookupsTotal int64
)

func recordWarn(component string) {
	if isSweepComponent(component) {
		atomic.AddInt64(&warnsSweep, 1)
	} else if strings.Contains(component, "lookup") || strings.Contains(component, "server") {
		atomic.AddInt64(&warnsLookup, 1)
	}
}

func recordError(component string) {
	if isSweepComponent(component) {
		atomic.AddInt64(&errorsSweep, 1)
	} else if strings.Contains(component, "lookup") || strings.Contains(component, "server") {
		atomic.AddInt64(&errorsLookup, 1)
	}
}

func isSweepComponent(component string) bool {
	return strings.Contains(component, "sweep") || strings.Contains(component, "calculator") || strings.Contains(component, "store")
}

// IncrementCells counts grid cells evaluated by the calculator.
func IncrementCells(n int) { atomic.AddInt64(&cellsDone, int64(n)) }

// IncrementRowsWritten counts grid records committed to the store.
func IncrementRowsWritten(n int) { atomic.AddInt64(&rowsWritten, int64(n)) }

// IncrementLookups counts presentation-layer lookups.
func IncrementLookups() { atomic.AddInt64(&lookupsTotal, 1) }

// StartReport begins periodic logging of runtime and sweep statistics until
// ctx is done.
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

func reportFields() Fields {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return Fields{
		"errors_sweep":  atomic.LoadInt64(&errorsSweep),
		"errors_lookup": atomic.LoadInt64(&errorsLookup),
		"warns_sweep":   atomic.LoadInt64(&warnsSweep),
		"warns_lookup":  atomic.LoadInt64(&warnsLookup),
		"cells_done":    atomic.LoadInt64(&cellsDone),
		"rows_written":  atomic.LoadInt64(&rowsWritten),
		"lookups":       atomic.LoadInt64(&lookupsTotal),
		"goroutines":    runtime.NumGoroutine(),
		"heap_mb":       int64(mem.HeapAlloc) / 1024 / 1024,
	}
}

func logReport(ctx context.Context, log *Log) {
	fields := reportFields()
	log.WithComponent("report").WithFields(fields).Info("runtime report")

	count := func(name, key string) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(float64(fields[key].(int64))),
		}
	}
	publishMetrics(ctx, []cwtypes.MetricDatum{
		count("ErrorsSweep", "errors_sweep"),
		count("ErrorsLookup", "errors_lookup"),
		count("CellsDone", "cells_done"),
		count("RowsWritten", "rows_written"),
		count("Lookups", "lookups"),
		{MetricName: aws.String("HeapMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(fields["heap_mb"].(int64)))},
	})
}
