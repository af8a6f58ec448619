// Package migrate moves accounts from delegated authentication to local
// credentials without a lockout window.
//
// Each account walks delegated -> migrating -> local. Provisioning is a
// conditional store update, so re-running against an account that already
// moved is a reported no-op rather than a second credential issue. Batch
// runs process accounts with bounded concurrency and collect per-account
// failures instead of aborting.
package migrate
