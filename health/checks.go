package health

import (
	"context"
	"fmt"

	"github.com/c360/takstreams/natsclient"
)

// ConnectionReporter is the part of the NATS client the connection check reads
type ConnectionReporter interface {
	Status() natsclient.ConnectionStatus
	Failures() int32
}

// NATSCheck maps the client's connection state to a status. Reconnecting is
// degraded, since publishes buffer until the connection returns.
func NATSCheck(client ConnectionReporter) Check {
	return func(context.Context) Status {
		state := client.Status()
		var s Status
		switch state {
		case natsclient.StatusConnected:
			s = NewHealthy("nats", "connected")
		case natsclient.StatusReconnecting, natsclient.StatusConnecting:
			s = NewDegraded("nats", state.String())
		default:
			s = NewUnhealthy("nats", state.String())
		}
		return s.WithDetail("failures", client.Failures())
	}
}

// BacklogCheck reports degraded once depth reaches limit. A queue that is
// falling behind still accepts work, so it never reports unhealthy.
func BacklogCheck(depth func() int, limit int) Check {
	return func(context.Context) Status {
		n := depth()
		var s Status
		if limit > 0 && n >= limit {
			s = NewDegraded("", fmt.Sprintf("backlog %d at limit %d", n, limit))
		} else {
			s = NewHealthy("", "ok")
		}
		return s.WithDetail("pending", n)
	}
}
