package api

// Validate validates the job specification
// Rules are:
// - Job id is required
// - Task images are required and non-empty
// - Resolved task ids (declared or generated) are unique within the job
// - A task cannot depend on itself
// - Data volume and shared data volume names are non-empty strings
// - A literal num_instances must be positive
// Unknown depends_on references and cycles are detected by the graph builder,
// which needs the generated ids resolved first.
func (j JobSpec) Validate() error {
	if j.ID == "" {
		return NewValidationError("job id is required")
	}
	seen := make(map[string]int)
	for i, t := range j.Tasks {
		id := ResolvedTaskID(j.ID, i, t)
		if t.Image == "" {
			return NewValidationError("task %s has no container image", id)
		}
		if prev, dup := seen[id]; dup {
			return NewValidationError("task id %s declared by both task %d and task %d", id, prev, i)
		}
		seen[id] = i
		for _, dep := range t.DependsOn {
			if dep == id {
				return NewValidationError("task %s depends on itself", id)
			}
		}
		for _, v := range t.DataVolumes {
			if v == "" {
				return NewValidationError("task %s has an empty data volume name", id)
			}
		}
		for _, v := range t.SharedDataVolumes {
			if v == "" {
				return NewValidationError("task %s has an empty shared data volume name", id)
			}
		}
		if mi := t.MultiInstance; mi != nil {
			if mi.NumInstances.IsLiteral() && mi.NumInstances.Literal <= 0 {
				return NewValidationError("task %s has non-positive num_instances %d", id, mi.NumInstances.Literal)
			}
		}
	}
	return nil
}
