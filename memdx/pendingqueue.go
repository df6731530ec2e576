package memdx

import (
	"net"
	"sync"
)

// PendingQueue tracks the commands that have been written to a connection and
// are waiting for their responses, in the order they were written.  Since the
// protocol carries no usable correlation id, responses are matched strictly
// first in, first out.
//
// Once closed, the queue fails every command it still holds and rejects any
// further commands.
type PendingQueue struct {
	lock sync.Mutex

	entries  []*Command
	closed   bool
	closeErr error
}

func (q *PendingQueue) Push(cmd *Command) error {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.closed {
		if q.closeErr != nil {
			return q.closeErr
		}
		return net.ErrClosed
	}

	q.entries = append(q.entries, cmd)
	return nil
}

// Peek returns the oldest command without removing it, or nil.
func (q *PendingQueue) Peek() *Command {
	q.lock.Lock()
	defer q.lock.Unlock()

	if len(q.entries) == 0 {
		return nil
	}

	return q.entries[0]
}

// Pop removes and returns the oldest command, or nil.
func (q *PendingQueue) Pop() *Command {
	q.lock.Lock()
	defer q.lock.Unlock()

	if len(q.entries) == 0 {
		return nil
	}

	cmd := q.entries[0]
	q.entries[0] = nil
	q.entries = q.entries[1:]
	if len(q.entries) == 0 {
		// reset so the backing array gets reused rather than regrown
		q.entries = q.entries[:0:0]
	}

	return cmd
}

// Remove takes cmd out of the queue, reporting whether it was still there.
func (q *PendingQueue) Remove(cmd *Command) bool {
	q.lock.Lock()
	defer q.lock.Unlock()

	for idx, entry := range q.entries {
		if entry == cmd {
			q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
			return true
		}
	}

	return false
}

func (q *PendingQueue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	return len(q.entries)
}

// Close marks the queue as closed and fails every command it holds with err.
// It returns the number of commands that were failed; closing an already
// closed queue does nothing.
func (q *PendingQueue) Close(err error) int {
	q.lock.Lock()
	if q.closed {
		q.lock.Unlock()
		return 0
	}

	q.closed = true
	q.closeErr = err
	entries := q.entries
	q.entries = nil
	q.lock.Unlock()

	for _, cmd := range entries {
		cmd.Resolve(nil, err)
	}

	return len(entries)
}
