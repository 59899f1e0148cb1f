// Package notify delivers the notifications that follow a first-time
// federated sign-in: an administrator alert for signups awaiting approval and
// a welcome message for invited users.
//
// Notifications are side effects of account creation. The Dispatcher runs
// them on their own goroutine with a bounded timeout after the account has
// been stored, so a slow or failing notifier never changes the outcome of the
// authentication attempt that triggered it.
//
// Two notifiers ship with the package:
//
//	WebhookNotifier  POSTs signed JSON events to an HTTP endpoint with retries
//	LogNotifier      writes the event to the structured log
package notify
