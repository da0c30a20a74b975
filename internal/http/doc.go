// Package http exposes the availability engine over JSON.
//
// The router exposes the following endpoints:
//   - POST /v1/availability/check: body {"unit_id","start","end"} or
//     {"unit_id","interval"}; responds with the evaluated status, the
//     conflicting reservations and the free sub-ranges.
//   - POST /v1/availability/batch: body {"items":[...],"timeout_ms"}; every item
//     resolves independently and failures come back as "errored" entries. The
//     report keeps request order and sets "complete" to false when the deadline hit.
//   - POST /v1/alternatives: body {"unit_id","start","end","max",
//     "prefer_attribute","prefer_target"}; returns free units of the same category.
//   - POST /v1/holds: places a tentative hold. 201 with the reservation, 409 with
//     "conflicts" when the range is taken.
//   - POST /v1/holds/{id}/confirm, DELETE /v1/reservations/{id},
//     POST /v1/reservations/{id}/reschedule, GET /v1/reservations/{id}: the
//     reservation lifecycle. Expired holds answer 410.
//   - GET /v1/projects/{id}/reservations: a project's reservations, with
//     ?include_inactive=true for cancelled and expired ones.
//   - GET /healthz and GET /metrics.
//
// Dates are ISO-8601 calendar dates (YYYY-MM-DD) and ranges are half-open.
// Error bodies carry a Japanese "message" and a stable English "error_code".
// Request/response DTOs live alongside their respective handlers.
package http
