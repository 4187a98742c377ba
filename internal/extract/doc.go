// Package extract is the stream extraction engine.
//
// One stream (an entity type such as accounts or survey responses) is driven
// through repeated HTTP requests until its paginator decides there is nothing
// left to fetch. The engine emits every record to a Sink in response order and
// tracks the high-water mark of the stream's replication key so a later run can
// resume from it.
//
// Structure:
//
//	descriptor.go  - StreamDescriptor, PaginationSpec, StreamConfig
//	pagination.go  - PaginationState and the PageNumber/ScrollCursor/SinglePage paginators
//	request.go     - RequestBuilder and per-stream parameter shapers
//	records.go     - RecordExtractor (JSONPath record location)
//	replication.go - ReplicationTracker
//	engine.go      - Engine.SyncStream state machine
//	errors.go      - Transport/Extraction/PaginationProtocol/Configuration errors
package extract
