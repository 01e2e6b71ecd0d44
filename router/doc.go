// Package router decides which worker runs each task and records the
// resource reservations that keep tasks on the same resource serialized.
//
// A task without a resource goes to the least-loaded live worker. A task on
// a resource goes to whichever worker already holds reservations on it, or,
// when none does, to the least-loaded live worker, which thereby becomes
// the resource's holder. Load is the number of open reservations a worker
// holds; ties go to the lexically smallest worker name.
//
// Claiming a resource writes the reservation first and reads second: after
// inserting its row the router lists every open reservation on the
// resource, and if any of them names a different worker the claim lost a
// race, so the row is deleted and the decision retried with jittered
// backoff. Of two racing claimants the later reader always sees the other's
// row, so at most one of them proceeds.
//
// The reservation and the task record are written before the message is
// published. If publishing fails both are removed, so callers never observe
// a reservation for a task that was not queued.
package router
