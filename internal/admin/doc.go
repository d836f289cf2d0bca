// Package admin implements the mailvault operator commands.
//
// Commands:
//   - failed [limit]       list permanently failed jobs with their last error
//   - requeue <uid>        give a failed job a fresh set of attempts
//   - usage <email>        show the sender's current monthly usage
//   - revoke <email>       revoke the credit lent to the sender's wallet
//   - migrate              apply database migrations
//   - secret <key> <value> store a secret in the OS keyring
//
// Run dispatches one command against an Executor; Service is the
// Executor backed by the database and the pipeline services.
package admin
