// bench-decode measures rtlog decode throughput on a synthetic telemetry log,
// both with direct single-threaded decoding and through the worker pool.
//
// Usage:
//
//	go run ./scripts/bench-decode --fields 64 --samples 2000 --codec zstd \
//	  --workers 8 --jobs 256 --profile-dir docs/profiles/decode
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/fieldscope-io/fieldscope/internal/rtlog"
	"github.com/fieldscope-io/fieldscope/internal/telemetry"
	"github.com/fieldscope-io/fieldscope/internal/worker"
	"github.com/fieldscope-io/fieldscope/pkg/safeconv"
	"github.com/fieldscope-io/fieldscope/pkg/units"
)

func main() {
	fields := flag.Int("fields", 64, "Number of telemetry fields to generate")
	samples := flag.Int("samples", 2000, "Samples per field")
	codecName := flag.String("codec", "zstd", "Block compression codec (none, lz4, zstd)")
	formatVersion := flag.Int("format-version", int(rtlog.CurrentVersion), "Container format version to encode")
	integrity := flag.Bool("integrity", true, "Append an integrity trailer (format v2 only)")
	iterations := flag.Int("iterations", 50, "Direct decode iterations")
	workers := flag.Int("workers", 0, "Pool workers (0 = GOMAXPROCS)")
	jobs := flag.Int("jobs", 200, "Decode jobs to submit through the pool")
	profileDir := flag.String("profile-dir", "", "Directory to write pprof profiles (empty = disabled)")
	cpuProfile := flag.Bool("cpu-profile", false, "Write CPU profile to profile-dir/cpu.prof")

	flag.Parse()

	codec, err := rtlog.ParseCodec(*codecName)
	if err != nil {
		log.Fatalf("parse codec: %v", err)
	}

	if *cpuProfile && *profileDir == "" {
		log.Fatal("--cpu-profile requires --profile-dir")
	}

	if *profileDir != "" {
		if mkErr := os.MkdirAll(*profileDir, 0o755); mkErr != nil {
			log.Fatalf("mkdir profile-dir: %v", mkErr)
		}
	}

	if *cpuProfile {
		cpuPath := filepath.Join(*profileDir, "cpu.prof")

		cpuFile, cpuErr := os.Create(cpuPath)
		if cpuErr != nil {
			log.Fatalf("create cpu profile: %v", cpuErr)
		}
		defer cpuFile.Close()

		if startErr := pprof.StartCPUProfile(cpuFile); startErr != nil {
			log.Fatalf("start cpu profile: %v", startErr)
		}

		defer pprof.StopCPUProfile()

		log.Printf("CPU profiling enabled -> %s", cpuPath)
	}

	telemetryLog := buildLog(*fields, *samples)

	encOpts := []rtlog.EncoderOption{
		rtlog.WithVersion(safeconv.MustIntToUint16(*formatVersion)),
		rtlog.WithCompression(codec),
	}
	if *integrity {
		encOpts = append(encOpts, rtlog.WithIntegrity())
	}

	encodeStart := time.Now()

	buf, err := rtlog.NewEncoder(encOpts...).EncodeLog(telemetryLog)
	if err != nil {
		log.Fatalf("encode: %v", err)
	}

	log.Printf("encoded %d fields / %d samples -> %s (v%d, codec=%s, integrity=%v) in %s",
		telemetryLog.FieldCount(), telemetryLog.SampleCount(), humanize.IBytes(uint64(len(buf))),
		*formatVersion, codec, *integrity, time.Since(encodeStart).Round(time.Millisecond))

	// Heap measurements at phase boundaries.
	type heapSnapshot struct {
		label     string
		heapInUse uint64
		heapSys   uint64
	}

	var snapshots []heapSnapshot

	takeSnapshot := func(label string) {
		runtime.GC()
		runtime.GC()

		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		snapshots = append(snapshots, heapSnapshot{
			label:     label,
			heapInUse: m.HeapInuse,
			heapSys:   m.HeapSys,
		})
		log.Printf("  [heap] %-28s inuse=%6.1f MB  sys=%6.1f MB",
			label, float64(m.HeapInuse)/1e6, float64(m.HeapSys)/1e6)
	}

	takeSnapshot("before_direct")

	// Direct path: decode on the calling goroutine.
	log.Printf("direct decode: %d iterations", *iterations)

	directStart := time.Now()

	for i := 0; i < *iterations; i++ {
		if _, derr := rtlog.Decode(buf); derr != nil {
			log.Fatalf("direct decode iteration %d: %v", i+1, derr)
		}
	}

	directElapsed := time.Since(directStart)

	takeSnapshot("after_direct")

	// Pool path: all jobs submitted up front, then awaited in order. The
	// queue is sized to hold every job so Submit never rejects.
	pool := worker.NewPool(worker.Config{Workers: *workers, QueueDepth: *jobs})

	log.Printf("pool decode: %d jobs across %d workers", *jobs, poolWorkers(*workers))

	poolStart := time.Now()

	results := make([]<-chan worker.Result, 0, *jobs)

	for i := 0; i < *jobs; i++ {
		ch, serr := pool.Submit(context.Background(), buf)
		if serr != nil {
			log.Fatalf("submit job %d: %v", i+1, serr)
		}

		results = append(results, ch)
	}

	for i, ch := range results {
		res := <-ch
		if res.Err != nil {
			log.Fatalf("pool decode job %d: %v", i+1, res.Err)
		}
	}

	poolElapsed := time.Since(poolStart)

	pool.Close()

	takeSnapshot("after_pool")

	if *profileDir != "" {
		writeHeapProfile(filepath.Join(*profileDir, "heap_after_pool.prof"))
	}

	// Print summary tables.
	fmt.Println()
	fmt.Println("=== Decode Throughput ===")
	fmt.Printf("%-10s %8s %12s %12s %14s\n", "Path", "Ops", "Wall", "Mean/op", "Throughput")
	fmt.Println("----------+--------+------------+------------+--------------")

	printRow := func(name string, ops int, wall time.Duration) {
		mean := wall / time.Duration(ops)
		mibps := float64(len(buf)) * float64(ops) / wall.Seconds() / units.MiB
		fmt.Printf("%-10s %8d %12s %12s %11.1f MiB/s\n",
			name, ops, wall.Round(time.Millisecond), mean.Round(time.Microsecond), mibps)
	}

	printRow("direct", *iterations, directElapsed)
	printRow("pool", *jobs, poolElapsed)

	fmt.Println()
	fmt.Println("=== Heap Memory Timeline ===")
	fmt.Printf("%-30s %10s %10s\n", "Phase", "InUse(MB)", "Sys(MB)")
	fmt.Println("------------------------------+----------+----------")

	for _, s := range snapshots {
		fmt.Printf("%-30s %10.1f %10.1f\n",
			s.label, float64(s.heapInUse)/1e6, float64(s.heapSys)/1e6)
	}
}

func poolWorkers(configured int) int {
	if configured > 0 {
		return configured
	}

	return runtime.GOMAXPROCS(0)
}

func writeHeapProfile(path string) {
	runtime.GC()
	runtime.GC()

	f, err := os.Create(path)
	if err != nil {
		log.Printf("warning: create heap profile %s: %v", path, err)

		return
	}
	defer f.Close()

	if perr := pprof.WriteHeapProfile(f); perr != nil {
		log.Printf("warning: write heap profile %s: %v", path, perr)
	}
}

var subsystemModes = []string{"disabled", "auto", "teleop", "test"}

// buildLog generates a deterministic telemetry log shaped like a robot match
// recording: mostly numeric channels sampled at 50 Hz, with a sprinkling of
// boolean and string status fields.
func buildLog(fieldCount, samplesPer int) *telemetry.Log {
	telemetryLog := telemetry.NewLog()
	telemetryLog.Metadata["origin"] = "bench-decode"
	telemetryLog.Metadata["robot"] = "bench-0001"

	for i := 0; i < fieldCount; i++ {
		key, kind := fieldSpec(i)

		field, err := telemetryLog.DefineField(key, kind)
		if err != nil {
			log.Fatalf("define field %s: %v", key, err)
		}

		for s := 0; s < samplesPer; s++ {
			ts := float64(s) * 0.02

			var value any

			switch kind {
			case telemetry.KindBoolean:
				value = s%2 == 0
			case telemetry.KindString:
				value = subsystemModes[s%len(subsystemModes)]
			default:
				value = math.Sin(float64(i)+ts) * 12.0
			}

			if aerr := field.Append(ts, value); aerr != nil {
				log.Fatalf("append %s: %v", key, aerr)
			}
		}
	}

	return telemetryLog
}

func fieldSpec(i int) (string, telemetry.Kind) {
	switch i % 8 {
	case 6:
		return fmt.Sprintf("/status/breaker%d/tripped", i/8), telemetry.KindBoolean
	case 7:
		return fmt.Sprintf("/status/subsystem%d/mode", i/8), telemetry.KindString
	default:
		return fmt.Sprintf("/drive/channel%02d/value", i), telemetry.KindNumber
	}
}
