// Package testing flips the studio binaries into test mode. Test packages
// that touch cmd entrypoints blank-import it.
package testing

import (
	"os"
	stdtesting "testing"
)

const testModeEnv = "STUDIO_TEST_MODE"

func init() {
	if os.Getenv(testModeEnv) == "" {
		_ = os.Setenv(testModeEnv, "1")
	}
}

// TestMain can be delegated to from a package's own TestMain.
func TestMain(m *stdtesting.M) {
	_ = os.Setenv(testModeEnv, "1")
	os.Exit(m.Run())
}
