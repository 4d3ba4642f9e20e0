// Package plan implements the plan API on top of the document store.
//
// [Service] validates payloads against the plan model, stores them through
// store.Store, guards patches and deletes with ETag tokens, and publishes every
// change for the search replica.
//
// # Tokens
//
// A plan's token is computed over its fully rehydrated canonical form, so the same
// content always yields the same token. Patch and Delete require the caller to
// present the current token: none yields [ErrPreconditionRequired], a stale one
// [ErrConcurrentModification], and nothing is written in either case.
//
// # Patches
//
// A patch must carry linkedPlanServices. They are appended to the stored list and
// de-duplicated by objectId, keeping the first occurrence, so an existing plan
// service is never replaced by an incoming one with the same id. Other attributes
// in the patch overwrite the stored ones.
package plan
