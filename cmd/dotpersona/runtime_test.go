package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/dotsetgreg/dotpersona/pkg/bus"
	"github.com/dotsetgreg/dotpersona/pkg/config"
	"github.com/dotsetgreg/dotpersona/pkg/kvstore"
	"github.com/dotsetgreg/dotpersona/pkg/profile"
	"github.com/dotsetgreg/dotpersona/pkg/router"
)

type offlineCaller struct{}

func (offlineCaller) Call(context.Context, string, string, string) (string, error) {
	return "", errors.New("offline")
}

func TestRunWorkers_StopWithTheGroup(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	kv, err := kvstore.New(t.TempDir())
	require.NoError(t, err)
	svc, err := profile.NewService(config.DefaultConfig().Profile, kv, offlineCaller{})
	require.NoError(t, err)
	sweeper, err := profile.NewSweeper(svc, "* * * * *")
	require.NoError(t, err)

	mb := bus.NewMessageBus()
	rt := &runtime{bus: mb, profiles: svc, sweeper: sweeper, router: router.New(mb, nil)}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	rt.runWorkers(gctx, g)
	require.Eventually(t, rt.router.Running, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, g.Wait())
	assert.False(t, rt.router.Running())
}
