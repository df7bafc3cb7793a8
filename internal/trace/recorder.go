// Package trace records the status stream of one simulation run. It keeps
// per-task counters for the end-of-run summary and can mirror every event
// to a console and a CSV file.
package trace

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"edfsim/internal/job"
	"edfsim/internal/kernel"
	"edfsim/internal/sched"
)

// CSVHeader is the first row written by EnableCSV.
var CSVHeader = []string{"run_id", "sim_time", "event", "task_id", "task", "deadline", "priority", "detail"}

// Recorder implements sched.Sink.
type Recorder struct {
	mu    sync.Mutex
	runID uuid.UUID

	csvWriter *csv.Writer
	console   io.Writer

	tasks    map[string]*taskStats
	order    []string // task names in first-seen order
	released map[kernel.TaskID]kernel.Timespec

	admitted, rejected, clamps, errors int
}

type taskStats struct {
	released, completed, met, missed int
	responses                        []float64 // seconds, release to finish
}

// NewRecorder creates a recorder for the run identified by runID.
func NewRecorder(runID uuid.UUID) *Recorder {
	return &Recorder{
		runID:    runID,
		tasks:    make(map[string]*taskStats),
		released: make(map[kernel.TaskID]kernel.Timespec),
	}
}

// RunID returns the run identifier stamped on every CSV row.
func (r *Recorder) RunID() uuid.UUID { return r.runID }

// EnableCSV writes the header to w and then one row per event.
func (r *Recorder) EnableCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}

	r.mu.Lock()
	r.csvWriter = cw
	r.mu.Unlock()
	return nil
}

// EnableConsole prints one line per event to w.
func (r *Recorder) EnableConsole(w io.Writer) {
	r.mu.Lock()
	r.console = w
	r.mu.Unlock()
}

// Record implements sched.Sink.
func (r *Recorder) Record(ev sched.StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case sched.StatusArrival:
		r.statsLocked(ev.Task).released++
		r.released[ev.TaskID] = ev.Time
	case sched.StatusDeadline:
		r.statsLocked(ev.Task).met++
	case sched.StatusMiss:
		r.statsLocked(ev.Task).missed++
	case sched.StatusFinish:
		st := r.statsLocked(ev.Task)
		st.completed++
		if at, ok := r.released[ev.TaskID]; ok {
			st.responses = append(st.responses, ev.Time.Sub(at).Seconds())
		}
	case sched.StatusAdmit:
		r.admitted++
	case sched.StatusReject:
		r.rejected++
	case sched.StatusClamp:
		r.clamps++
	case sched.StatusError:
		r.errors++
	}

	r.printLocked(ev)
	r.writeLocked(ev)
}

// Observe matches job.Observer and feeds execution starts and finishes
// into the status stream.
func (r *Recorder) Observe(id kernel.TaskID, name string, phase job.Phase, at kernel.Timespec) {
	kind := sched.StatusStart
	if phase == job.PhaseFinish {
		kind = sched.StatusFinish
	}
	r.Record(sched.StatusEvent{Time: at, Kind: kind, TaskID: id, Task: name})
}

func (r *Recorder) statsLocked(name string) *taskStats {
	st, ok := r.tasks[name]
	if !ok {
		st = &taskStats{}
		r.tasks[name] = st
		r.order = append(r.order, name)
	}
	return st
}

func (r *Recorder) printLocked(ev sched.StatusEvent) {
	if r.console == nil {
		return
	}
	// an auxiliary function to center the event kind in the output
	center := func(str string, width int) string {
		spaces := (width - len(str)) / 2
		return strings.Repeat(" ", spaces) + str + strings.Repeat(" ", width-(spaces+len(str)))
	}

	msg := fmt.Sprintf("%s [%s] => Task: %04d %-12s", ev.Time, center(ev.Kind.String(), 10), ev.TaskID, ev.Task)
	if !ev.Deadline.IsZero() {
		msg += " deadline=" + ev.Deadline.String()
	}
	if ev.Priority != 0 {
		msg += fmt.Sprintf(" prio=%03d", ev.Priority)
	}
	if ev.Detail != "" {
		msg += " " + ev.Detail
	}
	fmt.Fprintln(r.console, msg)
}

func (r *Recorder) writeLocked(ev sched.StatusEvent) {
	if r.csvWriter == nil {
		return
	}
	deadline := ""
	if !ev.Deadline.IsZero() {
		deadline = seconds(ev.Deadline)
	}
	rec := []string{
		r.runID.String(),
		seconds(ev.Time),
		ev.Kind.String(),
		strconv.FormatInt(int64(ev.TaskID), 10),
		ev.Task,
		deadline,
		strconv.Itoa(int(ev.Priority)),
		ev.Detail,
	}
	r.csvWriter.Write(rec)
	r.csvWriter.Flush()
}

func seconds(ts kernel.Timespec) string {
	return strconv.FormatFloat(float64(ts.Sec)+float64(ts.Nsec)/1e9, 'f', 3, 64)
}
