// Package ir provides the canonical value and record types for livesync.
//
// This package contains type definitions and their encodings only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere: numbers are int64
//   - Records carry a stable RecordID, a collection tag, and a version
//   - ChangeEvents are ordered by the authority's per-connection seq
//   - Content hashes use RFC 8785 canonical JSON with domain separation
package ir
