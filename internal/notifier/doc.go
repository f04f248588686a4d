// Package notifier delivers agent messages to the operator.
//
// Service sends through a transport.Sender (Telegram) with a token-bucket
// rate limit, a per-attempt timeout and a short retry budget, and keeps a
// small in-memory history for /status. LogSender is the dry-run driver.
package notifier
