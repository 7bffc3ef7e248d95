package kvvault

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// TokenStatus is the observability snapshot taken after the last successful
// renewal tick. Accessor identifies the token without exposing its value;
// ExpireTime is Vault's own timestamp string, empty until the first
// successful renewal.
type TokenStatus struct {
	Accessor   string
	ExpireTime string
	RenewedAt  time.Time
}

// TokenStatus returns the snapshot from the most recent successful renewal.
func (c *Client) TokenStatus() TokenStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Close stops the token renewal loop. Safe to call more than once and from
// multiple goroutines; only the first call has effect. Close does not wait
// for an in-flight renewal to finish, it only guarantees no new tick starts
// after the signal is observed.
func (c *Client) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// renewLoop renews the client token every interval until Close fires.
// Failed ticks are logged and swallowed; the next scheduled tick is the only
// retry mechanism.
func (c *Client) renewLoop() {
	ctx := context.Background()
	log := c.log.Ctx(ctx)

	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			log.Info("stopping token renewal loop")
			return
		case <-ticker.C:
			// When a tick and Close race, stop wins.
			select {
			case <-c.stop:
				log.Info("stopping token renewal loop")
				return
			default:
			}
			c.renewSelf(ctx)
		}
	}
}

func (c *Client) renewSelf(ctx context.Context) {
	log := c.log.Ctx(ctx)
	log.Debug("renewing token", zap.String("increment", c.incrementTTL))

	if _, err := c.api.Auth().Token().RenewSelfWithContext(ctx, c.increment); err != nil {
		log.Error("token renewal failed", zap.Error(err))
		return
	}

	// Lookup is observability only: the renewal above already stuck even if
	// this fails.
	info, err := c.api.Auth().Token().LookupSelfWithContext(ctx)
	if err != nil || info == nil || info.Data == nil {
		log.Error("token lookup after renewal failed", zap.Error(err))
		return
	}

	status := TokenStatus{RenewedAt: time.Now()}
	if acc, ok := info.Data["accessor"].(string); ok {
		status.Accessor = acc
	}
	if exp, ok := info.Data["expire_time"].(string); ok {
		status.ExpireTime = exp
	}

	c.mu.Lock()
	c.status = status
	c.mu.Unlock()

	log.Info("renewed token",
		zap.String("accessor", status.Accessor),
		zap.String("expire_time", status.ExpireTime))
}
