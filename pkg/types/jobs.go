package types

// JobType discriminates queue payloads
type JobType string

const (
	JobTypeIndex      JobType = "index"
	JobTypeDelete     JobType = "delete"
	JobTypeBatchIndex JobType = "batch-index"
	JobTypePurge      JobType = "purge"
)

// JobRecord identifies one record inside a batch-index job
type JobRecord struct {
	EntityID EntityID `json:"entityId"`
	RecordID string   `json:"recordId"`
}

// Job is the wire payload shared by every indexing queue. Fields not used
// by a given job type stay empty; unknown fields are ignored on decode.
type Job struct {
	JobType        JobType     `json:"jobType"`
	EntityType     EntityID    `json:"entityType,omitempty"`
	RecordID       string      `json:"recordId,omitempty"`
	TenantID       string      `json:"tenantId,omitempty"`
	OrganizationID string      `json:"organizationId,omitempty"`
	Records        []JobRecord `json:"records,omitempty"`
}

// OrderingKey returns the partition key that preserves per-record job
// ordering inside a queue. Batch jobs order by tenant.
func (j *Job) OrderingKey() string {
	if j.JobType == JobTypeBatchIndex {
		return j.TenantID
	}
	return string(j.EntityType) + ":" + j.RecordID + ":" + j.TenantID
}
