/*
Package volume implements cove's volume entity and the per-host volume
service, including the push side of the replication protocol.

A Volume is an immutable value binding {owner UUID, name, pool}. The Service
owns a persistent identity (loaded or generated on Start) and a storage
pool, and is the sole mutator of that pool through its public operations:
Create, Get, Enumerate, Receive, Destroy, and Push.

# Push protocol

Push replicates a volume to a destination host through a transport.Node:

 1. selecting-base: ask the destination which snapshots it holds (a
    "snapshots" command over the transport) and pick the newest one the
    origin still has; none shared means a full send.
 2. streaming: start the remote "receive" command, capture a fresh local
    snapshot, and write the pool's diff stream into the remote stdin,
    closing it to signal end-of-stream.
 3. remote-applying: the destination reads the stream to completion and
    applies it atomically through its own pool.
 4. complete, or failed on any transport error, non-zero remote exit, or
    pool error; a failed push leaves the destination unchanged.

Operations on the same volume name are mutually exclusive: a second
concurrent create/push/receive/destroy fails with errdefs.ErrBusy.
Operations on different volumes interleave freely.
*/
package volume
