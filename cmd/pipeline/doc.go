// Package main hosts the hashtag pipeline entrypoint.
//
// Architecture overview:
//   - Extract: internal/crawler pages backwards through the Mastodon tag timeline (internal/mastodon) until the
//     lookback cutoff, the page cap or an empty page. A token-bucket limiter and a circuit breaker guard the API;
//     only a first-page failure aborts the run, later failures end the crawl gracefully with what was collected.
//   - Transform: internal/normalize coerces raw posts into typed records (HTML stripped, counts validated, nested
//     structures kept as compact JSON), then internal/sentiment scores them with the configured backend.
//   - Load: internal/bronze appends the batch with COPY, falling back to a batched upsert on key conflicts. When the
//     database is unreachable the batch is written as CSV to the fallback blob store (local directory or GCS).
//   - Silver: internal/silver rebuilds the dimensional model (dates, SCD2 accounts, content, sentiment, facts) in a
//     single transaction guarded by an advisory lock.
//   - Gold: internal/gold refreshes the analytics materialized views; a failed view degrades the run to Partial.
//   - Notify: internal/notify posts a summary plus the most positive and negative posts to Discord, and the run
//     report is published to Pub/Sub when a topic is configured.
//
// Operational notes:
//   - Exit status is 0 for Success and Partial runs and 1 for Failed runs, so schedulers can alert on it.
//   - Progress events flow through internal/progress to the log, Prometheus and an in-memory snapshot. When
//     server.port is set, /healthz, /readyz, /metrics and /v1/runs/latest are served for the life of the run.
//   - Metrics are pushed to a Pushgateway at the end of the run when metrics.pushgateway_url is set, grouped by
//     run id.
//
// Quick checklist:
//   - Configure env vars: PIPELINE_CRAWL_HASHTAG, PIPELINE_DB_HOST, PIPELINE_DB_NAME, PIPELINE_DB_USER,
//     PIPELINE_DB_PASSWORD, PIPELINE_NOTIFY_DISCORD_WEBHOOK_URL, PIPELINE_SENTIMENT_API_TOKEN.
//   - Run locally: go run ./cmd/pipeline -config config.yaml (or rely solely on env overrides).
package main
