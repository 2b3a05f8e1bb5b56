/*
Package resilience provides a circuit breaker for operations that can fail
repeatedly, such as restarting a worker whose script no longer loads.

# States

	closed    calls run; consecutive failures are counted
	open      calls fail with ErrCircuitOpen until the cooldown passes
	half-open one trial call runs; success closes, failure reopens

# Usage

	restarts := resilience.NewGroup(resilience.DefaultSettings())

	err := restarts.Get(instanceID).Do(func() error {
		return restart(instanceID)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		// skipped
	}
*/
package resilience
