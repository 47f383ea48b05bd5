package api

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

const (
	// NumInstancesPoolCurrentDedicated resolves num_instances to the pool's
	// current dedicated node count at schedule time.
	NumInstancesPoolCurrentDedicated = "pool_current_dedicated"
)

// JobSpec is the specification of a job: a named collection of tasks sharing
// job-level input staging and environment. It is constructed once from the
// document and immutable thereafter.
type JobSpec struct {
	ID                        string             `json:"id"`
	MultiInstanceAutoComplete bool               `json:"multi_instance_auto_complete"`
	Environment               map[string]string  `json:"environment_variables,omitempty"`
	InputData                 *InputData         `json:"input_data,omitempty"`
	Tasks                     []TaskSpec         `json:"tasks"`
}

// TaskSpec is the specification of a single containerized unit of work.
type TaskSpec struct {
	ID                       string             `json:"id,omitempty"`
	Image                    string             `json:"image"`
	Name                     string             `json:"name,omitempty"`
	Labels                   []string           `json:"labels,omitempty"`
	Environment              map[string]string  `json:"environment_variables,omitempty"`
	Ports                    []string           `json:"ports,omitempty"`
	DataVolumes              []string           `json:"data_volumes,omitempty"`
	SharedDataVolumes        []string           `json:"shared_data_volumes,omitempty"`
	ResourceFiles            []ResourceFile     `json:"resource_files,omitempty"`
	InputData                *InputData         `json:"input_data,omitempty"`
	OutputData               *OutputData        `json:"output_data,omitempty"`
	RemoveContainerAfterExit bool               `json:"remove_container_after_exit"`
	ShmSize                  string             `json:"shm_size,omitempty"`
	AdditionalRunOptions     []string           `json:"additional_docker_run_options,omitempty"`
	Infiniband               bool               `json:"infiniband"`
	GPU                      bool               `json:"gpu"`
	DependsOn                []string           `json:"depends_on,omitempty"`
	MultiInstance            *MultiInstanceSpec `json:"multi_instance,omitempty"`
	Entrypoint               string             `json:"entrypoint,omitempty"`
	Command                  string             `json:"command,omitempty"`
	AlwaysStageOutputs       bool               `json:"always_stage_outputs,omitempty"`
}

// ResourceFile designates a blob to be staged onto a node before a task runs.
// Legacy documents represent "no resource files" as an entry with every field
// empty; such placeholders parse fine and are skipped everywhere.
type ResourceFile struct {
	FilePath   string `json:"file_path,omitempty"`
	BlobSource string `json:"blob_source,omitempty"`
	FileMode   string `json:"file_mode,omitempty"`
}

// IsPlaceholder reports whether the entry is the legacy all-empty sentinel.
func (r ResourceFile) IsPlaceholder() bool {
	return r.FilePath == "" && r.BlobSource == "" && r.FileMode == ""
}

// InputData holds the data to stage into a job's or task's execution
// environment before it runs.
type InputData struct {
	AzureBatch   []BatchEntry   `json:"azure_batch,omitempty"`
	AzureStorage []StorageEntry `json:"azure_storage,omitempty"`
}

// OutputData holds the data to stage out of a task's execution environment
// after its container exits.
type OutputData struct {
	AzureBatch   []BatchEntry   `json:"azure_batch,omitempty"`
	AzureStorage []StorageEntry `json:"azure_storage,omitempty"`
}

// BatchEntry cross-references another job/task's output directory by
// identifier. The reference is weak: the referenced task may belong to a
// different, already-completed job lifecycle.
// An empty Destination means "use the node shared directory".
type BatchEntry struct {
	JobID       string   `json:"job_id"`
	TaskID      string   `json:"task_id"`
	Include     []string `json:"include,omitempty"`
	Exclude     []string `json:"exclude,omitempty"`
	Destination string   `json:"destination,omitempty"`
}

// StorageEntry references blobs in an object-storage container.
// For inputs an empty Destination means "use the node shared directory";
// for outputs an empty Source means "use the task working directory".
type StorageEntry struct {
	StorageAccountSettings string   `json:"storage_account_settings"`
	Container              string   `json:"container"`
	Include                []string `json:"include,omitempty"`
	Destination            string   `json:"destination,omitempty"`
	Source                 string   `json:"source,omitempty"`
	ExtraOptions           []string `json:"blobxfer_extra_options,omitempty"`
}

// MultiInstanceSpec configures a task whose primary command runs on a master
// node only after every participating node completes a coordination phase.
type MultiInstanceSpec struct {
	NumInstances        NumInstances   `json:"num_instances"`
	CoordinationCommand string         `json:"coordination_command,omitempty"`
	ResourceFiles       []ResourceFile `json:"resource_files,omitempty"`
}

// NumInstances is either a literal positive integer or a symbolic token
// resolved against live pool state at schedule time.
type NumInstances struct {
	Literal int
	Symbol  string
}

// IsLiteral reports whether the instance count was given as a literal integer.
func (n NumInstances) IsLiteral() bool {
	return n.Symbol == ""
}

func (n NumInstances) String() string {
	if n.IsLiteral() {
		return strconv.Itoa(n.Literal)
	}
	return n.Symbol
}

// UnmarshalJSON accepts both the integer and the symbolic string form.
func (n *NumInstances) UnmarshalJSON(b []byte) error {
	var asInt int
	if err := json.Unmarshal(b, &asInt); err == nil {
		n.Literal = asInt
		n.Symbol = ""
		return nil
	}
	var asString string
	if err := json.Unmarshal(b, &asString); err != nil {
		return errors.Errorf("num_instances must be an integer or a symbolic token, got %s", string(b))
	}
	n.Literal = 0
	n.Symbol = asString
	return nil
}

// MarshalJSON writes the literal form when set, the symbol otherwise.
func (n NumInstances) MarshalJSON() ([]byte, error) {
	if n.IsLiteral() {
		return json.Marshal(n.Literal)
	}
	return json.Marshal(n.Symbol)
}

// GeneratedTaskID returns the deterministic identifier for the task at the
// given ordinal of a job, used when the document omits the task id. Generated
// ids are resolvable by depends_on references like any declared id.
func GeneratedTaskID(jobID string, ordinal int) string {
	return fmt.Sprintf("%s-task-%d", jobID, ordinal)
}

// ResolvedTaskID returns the task's declared id, or its generated one.
func ResolvedTaskID(jobID string, ordinal int, task TaskSpec) string {
	if task.ID != "" {
		return task.ID
	}
	return GeneratedTaskID(jobID, ordinal)
}
