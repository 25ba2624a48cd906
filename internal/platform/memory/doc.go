// Package memory provides an in-process implementation of store.Store.
//
// Transactions are serialized behind a single mutex and stage their writes
// until the callback succeeds, so a failed or panicking unit of work leaves no
// trace. It backs unit tests and the database.driver=memory development mode;
// it offers no durability.
package memory
