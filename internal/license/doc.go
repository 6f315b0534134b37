// Package license issues, verifies and brokers capsule licenses.
//
// A Manager owns the license lifecycle on top of injected repositories:
// generation with per-type permission presets, tamper and expiry checks with
// multi-party attestation, the request approve/reject workflow and aggregate
// metrics.
package license
