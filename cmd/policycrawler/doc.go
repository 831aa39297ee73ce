// Package main hosts the policy crawler service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and crawl session endpoints. Requests are validated,
//     clamped against configured ceilings, and persisted via the SessionStore before a background goroutine runs
//     the session to completion.
//   - Orchestrator: internal/crawler.Orchestrator owns the session state machine. It splits the page budget across
//     seeds, probes sitemaps, walks each domain with the frontier crawler, then downloads, dedups, classifies, and
//     persists every candidate PDF. Failures feed an error counter; the session keeps going.
//   - Frontier: a bounded breadth-first (or depth-first) queue with per-path-prefix caps and priority insertion for
//     document-looking links. Extraction covers anchors, iframes, embeds, objects, data-* attributes, and onclick
//     handlers, plus capped HEAD probes for extensionless links.
//   - Downloads: streamed to a temp file with a concurrent SHA-256 digest, then atomically renamed into the
//     country/policy-type tree. Size and wall-clock ceilings abort quietly; content digests drive dedup against the
//     document store.
//   - Persistence: Postgres via pgx when db.dsn is set, otherwise an in-memory store suitable for development.
//     Terminal session views are cached briefly and invalidated when any session finishes.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     collectors are exported via /metrics.
//
// Operational notes:
//   - Concurrency model: each crawl session runs in its own goroutine; a registry caps concurrent sessions and
//     rejects new ones at capacity, naming the oldest running session.
//   - Robots: robots.txt is fetched once per origin per session and enforced fail-open; crawler.respect_robots=false
//     disables enforcement entirely.
//   - Observability: zap logs carry session IDs at key transitions; the per-session ring buffer backs the
//     /v1/crawls/{id}/logs endpoint for UI polling.
//
// Quick checklist:
//   - Configure env vars with the POLICYCRAWLER prefix: POLICYCRAWLER_SERVER_PORT, POLICYCRAWLER_DB_DSN,
//     POLICYCRAWLER_STORAGE_ROOT, POLICYCRAWLER_CRAWLER_MAX_CONCURRENT, POLICYCRAWLER_CRAWLER_RESPECT_ROBOTS.
//   - Run locally: go run ./cmd/policycrawler -config config.yaml (or rely solely on env overrides).
package main
