// Soak test runner for long-duration congestion controller validation.
//
// Drives the combined delay+loss controller with synthetic traffic and
// periodic loss reports, watching for timestamp failures across
// abs-send-time wraparounds, memory growth, and estimate anomalies.
//
// Usage:
//
//	go run ./cmd/soak -duration 24h
//	go run ./cmd/soak -duration 1h  # shorter run
//
// Exposes pprof at :6060 for live profiling:
//
//	curl http://localhost:6060/debug/pprof/heap > heap.pprof
//	go tool pprof heap.pprof
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"net/http"
	_ "net/http/pprof" // pprof endpoints
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/voxrtc/cc/pkg/cc"
)

const (
	packetSize            = 1200 // bytes
	packetIntervalMs      = 20   // 50 pps
	absSendTimeUnitsPerMs = 262  // 1ms in abs-send-time units
	lossReportIntervalSec = 1
	statusIntervalMinutes = 5
)

// SoakResult summarizes one soak run.
type SoakResult struct {
	Duration         time.Duration
	TotalPackets     int
	TotalReports     int
	FinalTarget      uint32
	PeakHeapMB       float64
	TotalGCCycles    uint32
	WraparoundCount  int
	SuspiciousEvents int
	Status           string
}

func main() {
	duration := flag.Duration("duration", 24*time.Hour, "Test duration (e.g. 1h, 24h)")
	pprofPort := flag.Int("pprof-port", 6060, "Port for pprof HTTP server")
	flag.Parse()

	fmt.Printf("Congestion Controller Soak Runner\n")
	fmt.Printf("=================================\n")
	fmt.Printf("Duration: %v\n", *duration)
	fmt.Printf("Pprof:    http://localhost:%d/debug/pprof/\n", *pprofPort)
	fmt.Printf("\n")

	go func() {
		addr := fmt.Sprintf(":%d", *pprofPort)
		if err := http.ListenAndServe(addr, nil); err != nil {
			fmt.Printf("Warning: pprof server failed: %v\n", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		fmt.Printf("\nReceived %v, shutting down...\n", sig)
		cancel()
	}()

	result := runSoak(ctx, *duration)
	printSummary(result)

	if result.Status == "PASS" {
		os.Exit(0)
	}
	os.Exit(1)
}

func runSoak(ctx context.Context, duration time.Duration) SoakResult {
	controller, err := cc.New(cc.DefaultConfig(), nil)
	if err != nil {
		fmt.Printf("ERROR: controller construction failed: %v\n", err)
		return SoakResult{Status: "FAIL"}
	}

	result := SoakResult{Status: "PASS"}

	var memStats runtime.MemStats
	sendTime := uint32(0)
	var lastSendTime uint32
	seq := uint32(0)

	startTime := time.Now()
	lastStatusTime := startTime
	lastReportTime := startTime
	statusInterval := time.Duration(statusIntervalMinutes) * time.Minute
	reportInterval := time.Duration(lossReportIntervalSec) * time.Second

	ticker := time.NewTicker(time.Duration(packetIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	fmt.Printf("[%s] Starting soak run...\n", formatDuration(0))

	for {
		select {
		case <-ctx.Done():
			result.Duration = time.Since(startTime)
			return result

		case now := <-ticker.C:
			elapsed := now.Sub(startTime)
			if elapsed >= duration {
				result.Duration = elapsed
				return result
			}

			if sendTime < lastSendTime && result.TotalPackets > 0 {
				result.WraparoundCount++
			}
			lastSendTime = sendTime

			seq++
			controller.OnPacketReceived(cc.PacketObservation{
				SequenceNumber: seq,
				SendTime:       sendTime,
				ArrivalTime:    now,
				Size:           packetSize,
			})
			result.TotalPackets++

			if now.Sub(lastReportTime) >= reportInterval {
				lastReportTime = now
				controller.OnReceiverReport(cc.LossReport{
					FractionLost:       0,
					RTT:                50 * time.Millisecond,
					ExtendedHighestSeq: seq,
				})
				result.TotalReports++
			}

			target := controller.TargetBitrate()
			result.FinalTarget = target

			if math.IsNaN(float64(target)) || math.IsInf(float64(target), 0) {
				fmt.Printf("[%s] ERROR: non-finite target detected!\n", formatDuration(elapsed))
				result.SuspiciousEvents++
				result.Status = "FAIL"
			}
			if target == 0 {
				fmt.Printf("[%s] WARNING: zero target\n", formatDuration(elapsed))
				result.SuspiciousEvents++
			}

			sendTime = (sendTime + uint32(packetIntervalMs*absSendTimeUnitsPerMs)) % cc.AbsSendTimeMax

			if now.Sub(lastStatusTime) >= statusInterval {
				lastStatusTime = now
				runtime.ReadMemStats(&memStats)

				heapMB := float64(memStats.HeapAlloc) / (1024 * 1024)
				if heapMB > result.PeakHeapMB {
					result.PeakHeapMB = heapMB
				}
				result.TotalGCCycles = memStats.NumGC

				stats := controller.Stats()
				fmt.Printf("[%s] Packets: %d, Reports: %d, Target: %.2f Mbps, Dropped: %d/%d, HeapAlloc: %.2f MB, NumGC: %d\n",
					formatDuration(elapsed),
					result.TotalPackets,
					result.TotalReports,
					float64(target)/(1024*1024),
					stats.DroppedObservations,
					stats.DroppedReports,
					heapMB,
					memStats.NumGC)

				if heapMB > 100 {
					fmt.Printf("[%s] ERROR: memory limit exceeded: %.2f MB\n", formatDuration(elapsed), heapMB)
					result.Status = "FAIL"
				}
			}
		}
	}
}

func printSummary(result SoakResult) {
	fmt.Printf("\n")
	fmt.Printf("Soak Run Complete\n")
	fmt.Printf("=================\n")
	fmt.Printf("Duration:          %v\n", result.Duration.Round(time.Second))
	fmt.Printf("Total packets:     %d\n", result.TotalPackets)
	fmt.Printf("Total reports:     %d\n", result.TotalReports)
	fmt.Printf("Final target:      %.2f Mbps\n", float64(result.FinalTarget)/(1024*1024))
	fmt.Printf("Peak HeapAlloc:    %.2f MB\n", result.PeakHeapMB)
	fmt.Printf("Total GC cycles:   %d\n", result.TotalGCCycles)
	fmt.Printf("Wraparounds:       %d\n", result.WraparoundCount)
	fmt.Printf("Suspicious events: %d\n", result.SuspiciousEvents)
	fmt.Printf("Status:            %s\n", result.Status)
	fmt.Printf("\n")

	fmt.Printf("Pass Criteria:\n")
	fmt.Printf("  - No panics:            %s\n", checkMark(true))
	fmt.Printf("  - Final target > 0:     %s\n", checkMark(result.FinalTarget > 0))
	fmt.Printf("  - Peak memory < 100 MB: %s\n", checkMark(result.PeakHeapMB < 100))
	fmt.Printf("  - No anomalies:         %s\n", checkMark(result.SuspiciousEvents == 0))
}

func formatDuration(d time.Duration) string {
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func checkMark(pass bool) string {
	if pass {
		return "PASS"
	}
	return "FAIL"
}
