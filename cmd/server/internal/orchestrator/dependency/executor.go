package dependency

import "context"

// Executor runs external commands.
//
// Implementations:
//   - LocalExecutor: exec.CommandContext on this host
//   - RemoteExecutor: HTTP POST to a deps-service
//   - FallbackExecutor: remote first, local on network failure
type Executor interface {
	// ExecuteCommand runs req. Cancelling ctx terminates the command.
	ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error)

	// HealthCheck returns nil when the executor can serve requests.
	HealthCheck(ctx context.Context) error
}
