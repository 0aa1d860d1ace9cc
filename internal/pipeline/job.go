package pipeline

import (
	"shortsq/internal/domain"
	"shortsq/internal/ports"
)

// FuncStart is the handler name the pipeline is registered under.
const FuncStart = "pipeline.start"

// Job is the transportable argument set of one pipeline run.
type Job struct {
	TaskID    string             `json:"task_id"`
	RequestID string             `json:"request_id,omitempty"`
	StopAt    domain.Stage       `json:"stop_at"`
	Params    domain.VideoParams `json:"params"`
}

func (j Job) WorkItem() (ports.WorkItem, error) {
	params, err := j.Params.ToMap()
	if err != nil {
		return ports.WorkItem{}, err
	}
	return ports.WorkItem{
		Func: FuncStart,
		Args: ports.Args{
			"task_id":    j.TaskID,
			"request_id": j.RequestID,
			"stop_at":    j.StopAt.String(),
			"params":     params,
		},
	}, nil
}
