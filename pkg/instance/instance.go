package instance

import (
	"os"

	"github.com/wishpot/wishpot-backend/pkg/env"
)

const workerIDEnv = "WISHPOT_WORKER_ID"

// ID names this process in lock values and logs. It prefers
// WISHPOT_WORKER_ID, then the hostname.
func ID() string {
	if id := env.Get(workerIDEnv, ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
