/*
Package boltdb implements the db.Engine interface on top of bbolt.

Layout:

	catalog/<name>             msgpack catalog.Namespace
	docs/<collection>/<id>     msgpack document, key is value.EncodeKey(_id)
	idx/<index ns>/<key><id>   encoded identity, key is the encoded key tuple plus identity
	meta/applied               watermark (term, seq), 16 bytes big endian
	meta/hardstate             msgpack db.HardState
	log/<seq>                  msgpack oplog.Entry, key is the 8 byte big endian sequence number

Every applied entry is one bbolt write transaction that contains the mutation
and the new watermark, so a crash never leaves a half applied entry behind and
a reopened engine resumes exactly after the last applied entry.

Snapshots (Save/Load) stream the catalog, docs, idx buckets and the watermark
as msgpack records; the log and hard state stay local to the replica.
*/
package boltdb
