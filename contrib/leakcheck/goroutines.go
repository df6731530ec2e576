package leakcheck

import (
	"log"
	"os"
	"runtime"
	"runtime/pprof"
	"sync/atomic"
	"time"
)

var baselineGoroutineCount int32

// SnapshotGoroutines records the number of goroutines running before any test
// starts.  Test binaries that start long-lived goroutines from package init
// would otherwise always appear to leak.
func SnapshotGoroutines() {
	atomic.StoreInt32(&baselineGoroutineCount, int32(runtime.NumGoroutine()))
}

func ReportLeakedGoroutines() bool {
	// Without a snapshot we expect that only the current goroutine is running,
	// it would not be safe to check for leaks with tests still running.
	expectedGoroutineCount := int(atomic.LoadInt32(&baselineGoroutineCount))
	if expectedGoroutineCount <= 0 {
		expectedGoroutineCount = 1
	}

	// We allow up to 1 second for goroutines to finish their cleanup.  Since we use
	// Gosched to schedule other goroutines as quickly as possible, anything that takes
	// longer than 1 second implies that it is not 'immediately' cleaning up, and that we
	// likely have a leak.
	goroutineCleanupPeriod := 1 * time.Second

	// Loop for at most a second, this gives connection readers and writers time to shut down
	var finalGoroutineCount int
	start := time.Now()
	for time.Since(start) <= goroutineCleanupPeriod {
		// Run Gosched to hopefully give closing goroutines time to shut down
		runtime.Gosched()

		// Check if we have the appropriate goroutine count now
		finalGoroutineCount = runtime.NumGoroutine()
		if finalGoroutineCount == expectedGoroutineCount {
			break
		}

		// Sleep for 10ms if not.
		time.Sleep(10 * time.Millisecond)
	}

	if finalGoroutineCount != expectedGoroutineCount {
		log.Printf("Detected a goroutine leak (%d goroutines != %d)", finalGoroutineCount, expectedGoroutineCount)
		pprof.Lookup("goroutine").WriteTo(os.Stdout, 1)
		return false
	}

	log.Printf("No goroutines appear to have leaked (%d before == %d after)", finalGoroutineCount, expectedGoroutineCount)
	return true
}
