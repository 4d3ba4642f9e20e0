// Package search maintains the search replica of stored documents.
//
// Every node of a document tree is indexed as its own search document at its
// composite key. A join field ties each node to its parent: the root carries
// {"name": "<rootType>"} and every descendant carries
// {"name": "<field>", "parent": "<parentKey>"}. All nodes of a tree share one
// routing value, the root objectId, so a whole tree is removed with a single
// delete-by-routing request. An update uses the same request before re-indexing,
// so children the update dropped do not linger.
//
// [Writer] builds those documents from a rehydrated tree and implements
// replication.Applier. [Elastic] talks to Elasticsearch; [Memory] keeps documents
// in process.
package search
