package console

import (
	"context"
	"sync"
)

// AlertNotifier is the blocking, process-wide failure channel: each alert is printed
// and waits for the user to acknowledge it. Concurrent alerts queue up.
type AlertNotifier struct {
	ctx    context.Context
	driver Driver

	mu sync.Mutex
}

func NewAlertNotifier(ctx context.Context, driver Driver) *AlertNotifier {
	return &AlertNotifier{ctx: ctx, driver: driver}
}

// Alert implements apiclient.Notifier.
func (n *AlertNotifier) Alert(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ctx.Err() != nil {
		return
	}
	_ = n.driver.Info(n.ctx, "! "+message)
	_, _ = n.driver.Input(n.ctx, InputConfig{Message: "press enter to continue"})
}
