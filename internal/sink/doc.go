// Package sink receives extracted records.
//
// Structure:
//
//	singer.go        - Singer SCHEMA/RECORD/STATE messages on an io.Writer
//	object.go        - Batched Parquet / JSONL.gz objects in a bucket
//	object_store.go  - ObjectStore interface and local filesystem store
//	s3_client.go     - MinIO/S3 ObjectStore
//	memory.go        - In-memory sink
//	tee.go           - Fan-out to several sinks
package sink
