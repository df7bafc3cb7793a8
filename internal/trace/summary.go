package trace

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// TaskSummary aggregates one task over a run. Response times are in
// seconds, from arrival to finish.
type TaskSummary struct {
	Task      string
	Released  int
	Completed int
	Met       int
	Missed    int

	MeanResponse float64
	StdResponse  float64
	MaxResponse  float64
}

// Summary aggregates a whole run.
type Summary struct {
	RunID     uuid.UUID
	Tasks     []TaskSummary
	Met       int
	Missed    int
	MissRatio float64 // Missed / (Met + Missed), 0 when no deadline elapsed
	Admitted  int
	Rejected  int
	Clamps    int
	Errors    int
}

// Summary computes the run statistics recorded so far.
func (r *Recorder) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Summary{
		RunID:    r.runID,
		Admitted: r.admitted,
		Rejected: r.rejected,
		Clamps:   r.clamps,
		Errors:   r.errors,
	}
	for _, name := range r.order {
		st := r.tasks[name]
		ts := TaskSummary{
			Task:      name,
			Released:  st.released,
			Completed: st.completed,
			Met:       st.met,
			Missed:    st.missed,
		}
		if n := len(st.responses); n > 0 {
			ts.MeanResponse = stat.Mean(st.responses, nil)
			ts.MaxResponse = floats.Max(st.responses)
			if n > 1 {
				ts.StdResponse = stat.StdDev(st.responses, nil)
			}
		}
		s.Tasks = append(s.Tasks, ts)
		s.Met += st.met
		s.Missed += st.missed
	}
	if total := s.Met + s.Missed; total > 0 {
		s.MissRatio = float64(s.Missed) / float64(total)
	}
	return s
}

// WriteSummary prints s as an aligned table.
func WriteSummary(w io.Writer, s Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tRELEASED\tCOMPLETED\tMET\tMISSED\tMEAN RESP\tSTDDEV\tMAX RESP")
	for _, t := range s.Tasks {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%.3fs\t%.3fs\t%.3fs\n",
			t.Task, t.Released, t.Completed, t.Met, t.Missed,
			t.MeanResponse, t.StdResponse, t.MaxResponse)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\nrun %s: %d met, %d missed (miss ratio %.3f), %d sporadic admitted, %d rejected, %d clamps, %d errors\n",
		s.RunID, s.Met, s.Missed, s.MissRatio, s.Admitted, s.Rejected, s.Clamps, s.Errors)
	return err
}
