package sim

import "time"

// CommandType enumerates the work the panel may hand to the loop.
type CommandType string

const (
	CommandConsole         CommandType = "Console"
	CommandWhitelistAdd    CommandType = "WhitelistAdd"
	CommandWhitelistRemove CommandType = "WhitelistRemove"
)

const (
	// CommandRejectQueueFull indicates the command buffer is saturated.
	CommandRejectQueueFull = "queue_full"
	// CommandRejectInvalid indicates a malformed or unknown command.
	CommandRejectInvalid = "invalid_command"
)

// Command is a unit of work created on a request goroutine and consumed
// exactly once by the loop goroutine. Ownership transfers at Enqueue; the
// creator never reads it again.
type Command struct {
	ID       string
	Actor    string
	Type     CommandType
	IssuedAt time.Time

	// Line carries the rendered console command for CommandConsole.
	Line string
	// Name carries the target for whitelist mutations.
	Name string
}
