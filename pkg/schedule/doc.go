// Package schedule decides when the retry scheduler polls the queue.
//
//   - Every() for fixed-interval polling
//   - Cron() and ParseCron() for cron expressions, including "@every" descriptors
package schedule
