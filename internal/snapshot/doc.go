// Package snapshot holds the core types shared by the snapshot pipeline:
// requests, produced snapshots, pipeline errors and the collaborator
// interfaces (clock, fetcher, store, publisher) the pipeline is built from.
package snapshot
