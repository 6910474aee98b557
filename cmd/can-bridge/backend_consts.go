package main

import "time"

const (
	hostTxQueueSize   = 1024 // serial notification queue
	serialReadBufSize = 256  // per read() buffer for the serial host link
	rxBackoffMin      = 20 * time.Millisecond
	rxBackoffMax      = 500 * time.Millisecond
	mailboxRetryDelay = 50 * time.Microsecond
	shutdownTimeout   = 3 * time.Second
)
