package types

// Version is the canonical project version.
// The CLI, the agent script, and the snapshot format share this version.
const Version = "0.3.0"

// SnapshotVersion is the snapshot frame format version. It moves in lockstep
// with Version.
const SnapshotVersion = Version
