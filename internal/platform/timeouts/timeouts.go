// Package timeouts defines shared timeout constants used across the notifier
// runtime so transport limits stay in one discoverable place.
package timeouts

import "time"

// SMTPSend caps one outbound mail submission, dial included.
const SMTPSend = 10 * time.Second

// PushPublish caps one in-process push fan-out.
const PushPublish = 2 * time.Second

// ReadHeader limits how long the HTTP trigger API waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight work during graceful shutdown.
const Shutdown = 5 * time.Second
