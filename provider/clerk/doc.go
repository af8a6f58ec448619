// Package clerk provides Clerk session-token validation and a management
// API client for go-identity.
//
// Use TokenValidator with identity.MultiTokenValidator to keep accepting
// Clerk-issued sessions during the migration window, and Client to look up
// legacy identities while provisioning local credentials.
package clerk
