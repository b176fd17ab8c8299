/*
Package segment stores immutable content trees as records packed into
segments. Segments are the unit of storage: up to 256KiB of 4-byte
aligned records, a table of the other segments they reference, and a
checksum. Segments can be stored in anything that can store a named
blob, like a filesystem, a KV store, or S3.

# Records

A record is addressed by a RecordID: its segment and its offset. Inside
a record, references to other records take three bytes, an index into
the segment's reference table and the offset scaled by the alignment.
Records are written once and never change, so ids can be shared freely
between trees, and between versions of one tree.

The record layouts are:

- values: inline up to MediumLimit bytes, larger values cut into blocks

- lists: a count and a tree of buckets of ListBucketSize ids

- maps: a hash trie of leaves and branches keyed by MapHash, plus diff
records that overwrite a single entry of another map

- templates: the shape shared by nodes with the same types, property
names and child arrangement

- nodes: a template and the ids of the values and children it describes

# Writing

A Writer lays records out with a SegmentBuilder, which hands out ids
before the records are complete so that writers can reference records
of segments that are not yet sealed. Writer.Commit flushes the sealed
segments to a Store and moves the store's head to the written node.

# Editing

The memory package has the NodeState interface that SegmentNodeState
implements, and a Builder that records edits as overlays. An edited
SegmentNodeState is written by writing only the changed children and
sharing everything else.

# Comparing

Two nodes are compared by record ids first. Equal ids are equal
content, so comparing two versions of a large tree reads only the parts
that differ.
*/
package segment
