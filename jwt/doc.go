// Package jwt mints and verifies the access tokens the server hands out
// at login and checks on every API request and socket upgrade.
package jwt
