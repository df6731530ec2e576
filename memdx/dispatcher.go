package memdx

type PendingOp interface {
	Cancel(err error) bool
}

// Dispatcher hands commands to a transport.  A command passed to Dispatch is
// either resolved later through its own result slot, or Dispatch returns an
// error and the command is never resolved by the dispatcher; never both.
type Dispatcher interface {
	Dispatch(cmd *Command) error
}
