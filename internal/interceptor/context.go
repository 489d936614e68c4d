// SPDX-License-Identifier: Apache-2.0

package interceptor

import (
	"context"

	"github.com/sgrok-dev/sgrok/internal/trafficlog"
)

type cycleContextKey struct{}

func withCycle(ctx context.Context, c *trafficlog.RequestCycle) context.Context {
	return context.WithValue(ctx, cycleContextKey{}, c)
}

func cycleFromContext(ctx context.Context) (*trafficlog.RequestCycle, bool) {
	c, ok := ctx.Value(cycleContextKey{}).(*trafficlog.RequestCycle)
	return c, ok
}
