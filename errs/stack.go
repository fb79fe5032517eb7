package errs

import "strconv"

// MaxDepth is the bound on composed error frames within a single Stack,
// matching the original implementation's eight-entry thread-local stack.
const MaxDepth = 8

// Stack is an immutable, bounded chain of error frames. Public entry points
// create a fresh Stack on entry (clearing whatever came before); internal
// functions push onto it without clearing. Pushing past MaxDepth does not
// panic — it sets Overflowed and keeps the most recent MaxDepth frames, so
// callers can still observe the freshest context.
type Stack struct {
	Frames     []*E
	Overflowed bool
}

// NewStack starts a fresh error stack from a single frame.
func NewStack(e *E) Stack {
	return Stack{Frames: []*E{e}}
}

// Push appends a new frame, signaling overflow instead of growing past
// MaxDepth.
func (s Stack) Push(e *E) Stack {
	frames := append(append([]*E{}, s.Frames...), e)
	if len(frames) > MaxDepth {
		frames = frames[len(frames)-MaxDepth:]
		return Stack{Frames: frames, Overflowed: true}
	}
	return Stack{Frames: frames, Overflowed: s.Overflowed}
}

// Top returns the most recently pushed frame, or nil if the stack is empty.
func (s Stack) Top() *E {
	if len(s.Frames) == 0 {
		return nil
	}
	return s.Frames[len(s.Frames)-1]
}

// Empty reports whether the stack carries no frames.
func (s Stack) Empty() bool {
	return len(s.Frames) == 0
}

// Error renders every frame, innermost first, matching the CLI collaborator's
// stack dump contract: "the stack is dumped in order and the process exits
// non-zero" for user-visible failures.
func (s Stack) Error() string {
	if len(s.Frames) == 0 {
		return "<empty error stack>"
	}
	out := ""
	for i, f := range s.Frames {
		if i > 0 {
			out += "\n"
		}
		out += f.File + ":" + strconv.Itoa(f.Line) + " " + f.Function + ": " + f.Kind.String() + ": " + f.Message
	}
	if s.Overflowed {
		out += "\n... error stack overflowed, oldest frames discarded"
	}
	return out
}
