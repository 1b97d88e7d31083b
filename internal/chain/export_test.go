package chain

import "time"

// SetReceiptPoll shortens receipt polling for tests and returns a restore func.
func SetReceiptPoll(initial, maxInterval time.Duration) func() {
	prevInitial, prevMax := receiptPollInitial, receiptPollMax
	receiptPollInitial, receiptPollMax = initial, maxInterval
	return func() {
		receiptPollInitial, receiptPollMax = prevInitial, prevMax
	}
}
