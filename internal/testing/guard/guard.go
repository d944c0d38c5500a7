// Package guard switches binaries into test mode when blank-imported from
// a _test.go file, so main packages return before touching Postgres or Redis.
package guard

import "os"

// Env is the variable read by app.InTestMode.
const Env = "ODYSSEY_TEST_MODE"

func init() {
	if os.Getenv(Env) == "" {
		_ = os.Setenv(Env, "1")
	}
}
