// Package schemas embeds the JSON Schemas for the HTTP API's request and
// result payloads so validation never depends on the working directory.
package schemas

import _ "embed"

//go:embed query_job_request.schema.json
var QueryJobRequest string

//go:embed accession_job_request.schema.json
var AccessionJobRequest string

//go:embed normalized_record.schema.json
var NormalizedRecord string
