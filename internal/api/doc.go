// Package api hosts the HTTP server, middleware and REST handlers. Notable routes:
//   - GET /healthz and /readyz for health checks; readyz pings the movie store.
//   - GET /metrics for Prometheus scraping.
//   - /v1/movies for listing and per-title CRUD. Titles match case-insensitively.
//   - /v1/scrapes to queue a scrape run and poll its status.
package api
