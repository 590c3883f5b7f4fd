// Package main hosts the harvester service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, account and job endpoints under /v1. Bearer
//     tokens identify the caller; every job operation is scoped to its owner.
//   - Queue and workers: job creation and answer generation persist their state, then enqueue a task on a
//     bounded in-memory queue sized by jobs.queue_depth. A fixed pool of jobs.workers workers executes the
//     scrape and generate stages.
//   - Scrape stage: the configured scraper (template, process, headless or colly) is called with the job's
//     topic, keyword, time filter and limit plus the owner's decrypted Quora credentials. Results are
//     deduplicated, truncated to the limit and stored atomically with the job's completion.
//   - Generate stage: selected questions are answered one at a time through the configured generator
//     (gemini, claude, ollama or offline), paced by a token-bucket limiter. A failed item never aborts the run.
//   - Export: answered questions render to a PDF, optionally archived to memory, local disk or GCS.
//   - Plumbing: Viper loads config from file and HARVESTER_* env vars; zap provides structured logs;
//     Prometheus metrics are served on /metrics; progress events fan out to log, metrics and Pub/Sub sinks.
//
// Operational notes:
//   - On SIGINT/SIGTERM the server stops accepting requests, workers finish or abandon their task, and tasks
//     still queued are marked failed so no job is left pending.
//   - Run locally: go run ./cmd/harvester -config config.yaml, with HARVESTER_AUTH_JWT_SECRET and
//     HARVESTER_VAULT_SECRET set.
package main
