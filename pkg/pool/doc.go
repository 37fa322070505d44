/*
Package pool implements a host-local namespace of copy-on-write datasets
with snapshot-diff streaming, the storage layer under cove's volume service.

# On-disk layout

Each pool is rooted at one directory:

	<root>/
	├── cove.db                    BoltDB metadata (dataset registry,
	│                              per-dataset snapshot history)
	├── datasets/
	│   └── <name>/
	│       ├── data/              live tree, the volume's mount path
	│       └── snapshots/<id>/    immutable point-in-time captures
	└── staging/                   in-flight receive/snapshot builds

# Snapshots and diff streams

Snapshot copies the live tree into a new immutable snapshot directory,
preserving modes and modification times. Send serializes the latest snapshot
as a byte stream: a length-prefixed JSON header followed by a tar archive.
With no base the archive holds the whole tree; with a base snapshot it holds
only entries added or changed since that base, and the header lists the
deletions. Receive applies such a stream to a dataset, carrying the origin's
snapshot id across so later pushes can select it as a diff base.

# Atomicity

Receive never exposes partial state. Everything is built under staging/ and
promoted with renames once the stream has been read to completion; on any
failure the staging build is discarded and the dataset is exactly as it was.
Interrupted builds left behind by a crash are swept on Open.

The metadata store doubles as the pool's exclusivity lock: BoltDB holds a
file lock on cove.db, so two pool instances cannot manage the same root
concurrently.
*/
package pool
