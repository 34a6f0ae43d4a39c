package redis

// Redis key naming conventions for conveyor data.
// All keys are prefixed with "conveyor:" to avoid collisions.

const keyPrefix = "conveyor:"

// jobKey returns the key for a job entity: conveyor:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// tenantJobsKey returns the Set key tracking a tenant's job IDs:
// conveyor:tenant_jobs:{tenantID}
func tenantJobsKey(tenantID string) string { return keyPrefix + "tenant_jobs:" + tenantID }
