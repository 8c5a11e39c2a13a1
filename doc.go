/*
Package docprops implements a schema-driven document store on top of a
key-value store (Bolt, or memory for tests).

We implement:

1. Documents of declared types, each made of one property part per schema.
Parts are typed value trees (see package prop) loaded lazily on first access.

2. Sessions, which hand out private snapshots of documents and persist only
what changed, batching all documents into one write transaction.

3. Increments: a prop.Delta written to a long field is applied by the store
as stored+delta, so concurrent sessions never overwrite each other's counts.

4. Prefetching of a few allow-listed fields per document type, read at load
time without materializing any part.

5. Blobs, stored by content digest or resolved by URI scheme.

# Technical Details

**Buckets.**
All data lives in four flat buckets: docs, parts, lists and blobs. Part and
list keys start with the document id followed by a zero byte, so a
document's data can be found with a prefix scan.

**Parts and lists.**
A part record holds every field of one schema except lists that are not
nested inside another list; those are stored under their own key, so a long
list is only read when it is traversed. Lists inside lists are stored inline
with their outermost list.

**Merging.**
Writes never replace a part record wholesale. The dirty leaves of a part are
merged into whatever is stored, which is how two sessions that loaded the
same document independently can both save unrelated fields.

**Encoding.**
Records are msgpack maps with sorted keys. Integers come back in the narrowest
type that fits and are widened when loaded into a tree.
*/
package docprops
