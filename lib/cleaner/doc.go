// Package cleaner drives the periodic sweep of a datafront.
//
// Tables register their Sweep with the cleaner. A single ticker, started once
// per cleaner, calls every registered sweep in registration order. The sweep
// interval bounds how long unused query instances and cache entries survive.
package cleaner
