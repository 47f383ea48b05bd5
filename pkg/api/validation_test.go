package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	valid := JobSpec{
		ID: "job1",
		Tasks: []TaskSpec{
			{Image: "alpine"},
			{ID: "train", Image: "cntk", DependsOn: []string{"job1-task-0"}},
		},
	}
	assert.NoError(t, valid.Validate())

	cases := []struct {
		name string
		spec JobSpec
	}{
		{
			name: "missing job id",
			spec: JobSpec{Tasks: []TaskSpec{{Image: "alpine"}}},
		},
		{
			name: "missing image",
			spec: JobSpec{ID: "job1", Tasks: []TaskSpec{{}}},
		},
		{
			name: "duplicate declared id",
			spec: JobSpec{ID: "job1", Tasks: []TaskSpec{
				{ID: "a", Image: "alpine"},
				{ID: "a", Image: "alpine"},
			}},
		},
		{
			name: "declared id collides with generated id",
			spec: JobSpec{ID: "job1", Tasks: []TaskSpec{
				{Image: "alpine"},
				{ID: "job1-task-0", Image: "alpine"},
			}},
		},
		{
			name: "self dependency",
			spec: JobSpec{ID: "job1", Tasks: []TaskSpec{
				{ID: "a", Image: "alpine", DependsOn: []string{"a"}},
			}},
		},
		{
			name: "empty volume name",
			spec: JobSpec{ID: "job1", Tasks: []TaskSpec{
				{Image: "alpine", DataVolumes: []string{""}},
			}},
		},
		{
			name: "non-positive num_instances",
			spec: JobSpec{ID: "job1", Tasks: []TaskSpec{
				{Image: "alpine", MultiInstance: &MultiInstanceSpec{NumInstances: NumInstances{Literal: 0}}},
			}},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.spec.Validate()
			assert.Error(t, err)
			_, ok := err.(ValidationError)
			assert.True(t, ok)
		})
	}
}
