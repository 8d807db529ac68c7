package asyncx

// TaskStatus is what pollers see. Result stays nil until the task is terminal.
type TaskStatus struct {
	TaskID string  `json:"task_id"`
	Job    string  `json:"job"`
	Status Status  `json:"status"`
	Result *string `json:"result"`
}

// Snapshot converts a stored record into a TaskStatus.
func Snapshot(rec *TaskRecord) TaskStatus {
	ts := TaskStatus{TaskID: rec.ID, Job: rec.Job, Status: rec.Status}
	if rec.Status.Terminal() && rec.Result != nil {
		v := *rec.Result
		ts.Result = &v
	}
	return ts
}
