// Gatekeeper is an admission-control gateway for metered APIs.
//
// It sits in front of an upstream application and decides for every request
// whether it may proceed: a general per-caller rate limiter, a stricter
// limiter for metered paths, and daily caller and monthly global unit budgets
// backed by a durable usage ledger.
//
// Usage:
//
//	# Start the gateway in front of an upstream
//	UPSTREAM_URL=http://localhost:3000 gatekeeper serve
//
//	# Show a caller's quota
//	gatekeeper usage user:42 --plan pro
//
//	# Delete ledger records past the retention period
//	gatekeeper prune
//
// Configuration is read from the environment and an optional .env file.
package main

func main() {
	Execute()
}
