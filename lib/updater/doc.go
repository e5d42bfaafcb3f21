// Package updater routes server-pushed patch batches to the tables and
// singletons of a datafront.
//
// Listeners are registered per path. Every patch of a batch is handed to each
// listener registered for its path, in batch order. There is exactly one
// subscription to the push stream per updater (see Run).
package updater
