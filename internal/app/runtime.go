package app

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

// testModeEnv is set by the shared testing package so binaries built into
// test runs never open sockets or connect to Postgres.
const testModeEnv = "STUDIO_TEST_MODE"

var (
	testMode     atomic.Bool
	testModeInit sync.Once
)

func loadTestMode() {
	on, err := strconv.ParseBool(os.Getenv(testModeEnv))
	testMode.Store(err == nil && on)
}

// InTestMode reports whether cmd entrypoints should return before starting
// servers or workers.
func InTestMode() bool {
	testModeInit.Do(loadTestMode)
	return testMode.Load()
}

// RefreshTestMode re-reads the environment; tests call it after t.Setenv.
func RefreshTestMode() {
	testModeInit.Do(func() {})
	loadTestMode()
}
