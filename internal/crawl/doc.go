// Package crawl implements the client-side orchestration of multi-round
// crawl pipelines against a remote job-execution service. A JobClient scopes
// job creation and listing to one (crawlId, confId) identity; an Orchestrator
// drives the INJECT -> GENERATE -> FETCH -> PARSE -> UPDATEDB pipeline round
// by round, polling job status until each stage finishes. The remote service
// is abstracted behind capability interfaces so the state machine never
// depends on a wire protocol.
package crawl
