package common

import (
	"fmt"
	"io"
	"math"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/ebetica/batch-shipyard/pkg/api"
)

var (
	taskStatusIconMap map[api.Status]string
)

func init() {
	taskStatusIconMap = map[api.Status]string{
		api.StatusPending:        "◷",
		api.StatusBlocked:        "◷",
		api.StatusStaging:        "◌",
		api.StatusCoordinating:   "◌",
		api.StatusRunning:        "●",
		api.StatusStagingOutputs: "◌",
		api.StatusCancelled:      "ǁ",
		api.StatusCompleted:      "✔",
		api.StatusFailed:         "✖",
	}
}

// PrintOptions defines print options
type PrintOptions struct{}

// PrintJob prints the job state in the given writer
func PrintJob(w io.Writer, job api.JobState, opts PrintOptions) {
	fmt.Fprintln(w)

	// Header
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "Job:\t%s\n", job.ID)
	fmt.Fprintf(tw, "Status:\t%s\n", job.Status)
	fmt.Fprintf(tw, "Created:\t%s\n", date(job.CreateTime))
	fmt.Fprintf(tw, "Started:\t%s\n", date(job.StartTime))
	fmt.Fprintf(tw, "Finished:\t%s\n", date(job.EndTime))
	fmt.Fprintf(tw, "Duration:\t%s\n", duration(job.StartTime, job.EndTime))
	fmt.Fprintf(tw, "Tasks:\t%s\n", taskProgression(job.Tasks))
	tw.Flush()
	fmt.Fprintln(w)

	tw.Init(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tDURATION\tERROR")
	fmt.Fprintf(tw, "%s %s\t\t\n", taskStatusIconMap[job.Status], job.ID)

	tasks := append([]api.TaskState(nil), job.Tasks...)
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].StartTime == nil {
			return false
		} else if tasks[j].StartTime == nil {
			return true
		}
		return tasks[i].StartTime.Before(*tasks[j].StartTime)
	})

	for i := 0; i < len(tasks); i++ {
		task := tasks[i]
		prefix := "├"
		if i == len(tasks)-1 {
			prefix = "└"
		}
		printTask(tw, task, prefix, opts)
	}
	tw.Flush()
}

func printTask(w io.Writer, task api.TaskState, prefix string, opts PrintOptions) {
	fmt.Fprintf(w, "%s %s %s\t%s\t%s\n", prefix, taskStatusIconMap[task.Status], task.ID, duration(task.StartTime, task.EndTime), task.Error)
}

// taskProgression returns a string to be printed for task progression
func taskProgression(tasks []api.TaskState) string {
	total := len(tasks)
	if total == 0 {
		return ""
	}
	finished := 0
	for _, t := range tasks {
		if t.Status.Finished() {
			finished++
		}
	}
	return fmt.Sprintf("%d/%d", finished, total)
}

func date(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2 Jan 2006 15:04:05.000")
}

func duration(start, end *time.Time) string {
	var d time.Duration
	if start == nil {
		return ""
	}
	if end == nil {
		d = time.Now().Sub(*start)
	} else {
		d = end.Sub(*start)
	}

	// Print
	if d.Seconds() <= 60.0 {
		return fmt.Sprintf("%0.0fs", d.Seconds())
	} else if d.Minutes() <= 60.0 {
		m := int64(d.Minutes())
		s := math.Mod(d.Seconds(), 60)
		return fmt.Sprintf("%0.dm %0.0fs", m, s)
	} else {
		h := int64(d.Hours())
		m := int64(math.Mod(d.Minutes(), 60))
		s := math.Mod(d.Seconds(), 60)
		return fmt.Sprintf("%0.dh %0.dm %0.0fs", h, m, s)
	}
}
