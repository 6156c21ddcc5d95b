/*
Package catalog defines the namespace model of dDoc.

A namespace is either a collection or an index owned by a collection. Index
namespaces are named "<collection>.$<indexName>", where the index name is derived
from the key spec (e.g. "x_1"). Each collection has an identity index "_id_".
Namespaces may be temporary; temporary namespaces are dropped by the promotion
sweep whenever a member becomes primary.

Catalog state itself is owned by the storage engine (see lib/db); this package
only provides the types, the name grammar and the structural Pattern used to
list namespaces.
*/
package catalog
