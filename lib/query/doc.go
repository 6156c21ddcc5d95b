// Package query plans and executes find queries against the local engine.
//
// A query whose filter, projection and sort only reference the key fields of
// an index (plus the identity, which every index entry carries) is answered
// from the index entries alone. Such covered plans never read a document;
// Explain reports IndexOnly and zero DocumentsFetched. Everything else falls
// back to fetching documents through an index or a collection scan.
//
// Filters support literal equality and $eq, $gt, $gte, $lt, $lte, $in and
// $exists. Range operators are type bracketed: {$gt: 3} only matches numbers.
//
// Results are read lazily through a Cursor, one read transaction per batch.
package query
