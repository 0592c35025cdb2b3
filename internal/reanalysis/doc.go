// Package reanalysis turns a scoring pipeline run into a durable background
// job bound to a candidate version.
//
// Start creates the candidate and the job row in one transaction and returns
// immediately; scoring proceeds on a goroutine owned by the Manager, writing
// step and progress updates plus periodic heartbeats. Every job has a hard
// wall-clock budget after which it is marked failed and retryable, whatever
// the pipeline is still doing. Jobs orphaned by a crashed process are found
// through stale heartbeats and resumed by ResumeStale.
package reanalysis
