// Package identity implements the portal's authentication subsystem and the
// phased migration of accounts away from a hosted identity provider.
//
// Auth modes:
//   - Accounts carry an AuthMode that is persisted via Bun. Modes move
//     forward only: delegated -> migrating -> local. While an account is
//     migrating, both the legacy provider session and the locally issued
//     token authenticate, so nobody is locked out mid-rollout.
//   - AuthModeMachine centralizes the transition graph, migration
//     timestamps, and persistence. Transitions happen through conditional
//     single-row updates so concurrent migration attempts serialize.
//
// Tokens:
//   - TokenService signs session claims with an RSA private key and
//     verifies with the public key only, so any process holding the public
//     half can validate tokens statelessly. Verification failures are
//     typed: expired, bad signature, and malformed are distinct errors.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by Auther, the
//     mode machine, and the migration orchestrator to describe logins,
//     mode transitions, and migration outcomes. Sinks run best-effort
//     (errors are logged) so you can forward to a database or queue
//     without blocking authentication.
package identity
