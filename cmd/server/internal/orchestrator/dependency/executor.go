package dependency

import "context"

// DependencyExecutor runs external commands on behalf of DependencyClient.
//
// Implementations:
//   - LocalExecutor: runs the binaries on this host with exec.CommandContext
//   - test fakes recording the requested commands
type DependencyExecutor interface {
	// ExecuteCommand executes a command with the given request.
	// If the context is cancelled, the command must be terminated promptly.
	ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error)

	// HealthCheck verifies that the executor is ready to handle requests.
	HealthCheck(ctx context.Context) error
}
