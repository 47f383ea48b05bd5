// Package launch turns a task specification into a concrete container run
// specification. Building is pure: no daemon calls, no filesystem access, so
// the exact launch of any task can be unit tested and logged before execution.
package launch

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/ebetica/batch-shipyard/pkg/api"
)

const (
	// VolumeRoot is where named data volumes are mounted from on the host.
	VolumeRoot = "/mnt/batch/volumes"
	// SharedVolumeRoot is where shared data volumes live, visible to every
	// node of the pool.
	SharedVolumeRoot = "/mnt/batch/shared"

	infinibandDevice = "/dev/infiniband"
)

// Mount is a host path bound into the container.
type Mount struct {
	Source string
	Target string
}

// Spec is the fully resolved launch specification of one container.
type Spec struct {
	Image       string
	Name        string
	Labels      map[string]string
	Env         []string
	Ports       []string
	Mounts      []Mount
	Entrypoint  []string
	Command     []string
	WorkDir     string
	ShmSize     string
	NetworkMode string
	IPCMode     string
	Devices     []string
	AutoRemove  bool
	ExtraOpts   []string
}

// Build resolves the launch specification for the given task. Task level
// environment entries override job level ones with the same key.
func Build(job api.JobSpec, task api.TaskSpec, workDir string) Spec {
	s := Spec{
		Image:      task.Image,
		Name:       task.Name,
		Labels:     parseLabels(task.Labels),
		Env:        mergeEnv(job.Environment, task.Environment),
		Ports:      task.Ports,
		WorkDir:    workDir,
		ShmSize:    task.ShmSize,
		AutoRemove: task.RemoveContainerAfterExit,
		ExtraOpts:  task.AdditionalRunOptions,
	}

	for _, v := range task.DataVolumes {
		s.Mounts = append(s.Mounts, Mount{
			Source: path.Join(VolumeRoot, v),
			Target: path.Join("/", v),
		})
	}
	for _, v := range task.SharedDataVolumes {
		s.Mounts = append(s.Mounts, Mount{
			Source: path.Join(SharedVolumeRoot, v),
			Target: path.Join("/", v),
		})
	}

	if task.GPU {
		s.Devices = append(s.Devices, "/dev/nvidiactl", "/dev/nvidia-uvm", "/dev/nvidia0")
	}
	if task.Infiniband {
		s.NetworkMode = "host"
		s.IPCMode = "host"
		s.Devices = append(s.Devices, infinibandDevice)
	}

	if task.Entrypoint != "" {
		s.Entrypoint = strings.Fields(task.Entrypoint)
	}
	// An empty command defers to the image default.
	if task.Command != "" {
		s.Command = strings.Fields(task.Command)
	}
	return s
}

// parseLabels turns the document's label list into a map. Entries are KEY=VALUE
// pairs; a bare key maps to the empty value.
func parseLabels(labels []string) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for _, l := range labels {
		parts := strings.SplitN(l, "=", 2)
		if len(parts) == 2 {
			out[parts[0]] = parts[1]
		} else {
			out[l] = ""
		}
	}
	return out
}

// mergeEnv renders the merged environment as sorted KEY=VALUE pairs.
func mergeEnv(job, task map[string]string) []string {
	merged := make(map[string]string, len(job)+len(task))
	for k, v := range job {
		merged[k] = v
	}
	for k, v := range task {
		merged[k] = v
	}
	if len(merged) == 0 {
		return nil
	}
	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(env)
	return env
}
