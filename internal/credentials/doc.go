// Package credentials owns the Pentair cloud session and the AWS signing
// credentials derived from it.
//
// The flow mirrors the Pentair mobile application:
//
//  1. Authenticate signs in to the Cognito user pool with SRP and keeps the
//     resulting session (ID token, refresh token).
//  2. EnsureToken, called before every API request, refreshes the ID token when
//     it has expired and, whenever the ID token changed, exchanges it at the
//     identity pool for temporary AWS credentials.
//  3. A changed ID token bumps Credential.Generation and fires the
//     OnTokenChange hook so the hub can re-run discovery.
//
// Refresh failures never discard a working credential: the previous one is
// returned and requests fail later at the transport layer, where they are
// treated as transient.
package credentials
