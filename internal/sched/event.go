package sched

import (
	"encoding/binary"
	"fmt"

	"edfsim/internal/kernel"
)

// TaskKind distinguishes the two workload classes.
type TaskKind int32

const (
	TaskPeriodic TaskKind = iota
	TaskSporadic
)

func (k TaskKind) String() string {
	switch k {
	case TaskPeriodic:
		return "Periodic"
	case TaskSporadic:
		return "Sporadic"
	default:
		return fmt.Sprintf("TaskKind(%d)", int32(k))
	}
}

// EventKind says what happened to a task at a point in time.
type EventKind int32

const (
	EventArrival EventKind = iota
	EventDeadline
)

func (k EventKind) String() string {
	switch k {
	case EventArrival:
		return "Arrival"
	case EventDeadline:
		return "Deadline"
	default:
		return fmt.Sprintf("EventKind(%d)", int32(k))
	}
}

// TimeEvent is the message passed from the timer and the server to the
// scheduler. For an Arrival, Deadline is the absolute deadline of the new
// instance; for a Deadline event it is the deadline that just elapsed.
type TimeEvent struct {
	TaskID   kernel.TaskID
	TaskKind TaskKind
	Kind     EventKind
	Deadline kernel.Timespec
}

// EventSize is the fixed wire size of a TimeEvent:
// task_id, task_kind, event_kind (int32 each), deadline seconds and
// nanoseconds (int64 each), little endian.
const EventSize = 4 + 4 + 4 + 8 + 8

// Frame is one encoded TimeEvent.
type Frame [EventSize]byte

// Encode packs e into its fixed layout.
func (e TimeEvent) Encode() Frame {
	var f Frame
	binary.LittleEndian.PutUint32(f[0:], uint32(e.TaskID))
	binary.LittleEndian.PutUint32(f[4:], uint32(e.TaskKind))
	binary.LittleEndian.PutUint32(f[8:], uint32(e.Kind))
	binary.LittleEndian.PutUint64(f[12:], uint64(e.Deadline.Sec))
	binary.LittleEndian.PutUint64(f[20:], uint64(e.Deadline.Nsec))
	return f
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (e TimeEvent) MarshalBinary() ([]byte, error) {
	f := e.Encode()
	return f[:], nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Kinds are not
// validated here; the scheduler reports unknown kinds itself.
func (e *TimeEvent) UnmarshalBinary(b []byte) error {
	if len(b) < EventSize {
		return fmt.Errorf("decode time event (%d bytes): %w", len(b), ErrShortMessage)
	}
	e.TaskID = kernel.TaskID(int32(binary.LittleEndian.Uint32(b[0:])))
	e.TaskKind = TaskKind(int32(binary.LittleEndian.Uint32(b[4:])))
	e.Kind = EventKind(int32(binary.LittleEndian.Uint32(b[8:])))
	e.Deadline.Sec = int64(binary.LittleEndian.Uint64(b[12:]))
	e.Deadline.Nsec = int64(binary.LittleEndian.Uint64(b[20:]))
	return nil
}

// Decode unpacks a frame.
func (f Frame) Decode() TimeEvent {
	var e TimeEvent
	_ = e.UnmarshalBinary(f[:])
	return e
}
