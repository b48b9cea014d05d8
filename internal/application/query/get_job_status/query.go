package get_job_status

// GetJobStatusQuery represents a query for the state of a job
type GetJobStatusQuery struct {
	JobID string
}

// Name returns the name of the query
func (q GetJobStatusQuery) Name() string {
	return "GetJobStatus"
}
