package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediawatch/internal/archive"
	"github.com/JakeFAU/mediawatch/internal/collector/social"
	"github.com/JakeFAU/mediawatch/internal/config"
	"github.com/JakeFAU/mediawatch/internal/media"
	"github.com/JakeFAU/mediawatch/internal/watchdog"
)

type fakeApp struct {
	ran       bool
	closed    int
	clientID  string
	opts      social.Options
	days      int
	trigger   media.GroundingTrigger
	groundErr error
}

func (f *fakeApp) Run(context.Context) error   { f.ran = true; return nil }
func (f *fakeApp) Close(context.Context) error { f.closed++; return nil }
func (f *fakeApp) Logger() *zap.Logger         { return zap.NewNop() }

func (f *fakeApp) CollectSocial(_ context.Context, clientID string, opts social.Options) (social.Stats, error) {
	f.clientID = clientID
	f.opts = opts
	return social.Stats{Clients: 1, Collected: 5, New: 2}, nil
}

func (f *fakeApp) Ground(_ context.Context, clientID string, days int, trigger media.GroundingTrigger) (media.GroundingResult, error) {
	f.clientID = clientID
	f.days = days
	f.trigger = trigger
	if f.groundErr != nil {
		return media.GroundingResult{}, f.groundErr
	}
	return media.GroundingResult{Success: true, ArticlesFound: 3, MentionsCreated: 1, Trigger: trigger}, nil
}

func (f *fakeApp) Archive(context.Context) (archive.Result, error) {
	return archive.Result{Mentions: 4, Social: 1}, nil
}

func (f *fakeApp) CheckLiveness(context.Context) (watchdog.Status, error) {
	return watchdog.StatusHealthy, nil
}

// execute runs the root command with a fake app and returns stdout.
func execute(t *testing.T, app *fakeApp, args ...string) (string, error) {
	t.Helper()
	t.Setenv("MEDIAWATCH_QUEUE_BACKEND", "memory")

	orig := newApp
	t.Cleanup(func() { newApp = orig; cfgFile = "" })
	newApp = func(context.Context, *config.Config) (App, error) { return app, nil }

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestServeRunsAndClosesApp(t *testing.T) {
	app := &fakeApp{}
	_, err := execute(t, app, "serve")
	require.NoError(t, err)
	require.True(t, app.ran)
	require.Equal(t, 1, app.closed)
}

func TestCollectSocialParsesFlags(t *testing.T) {
	app := &fakeApp{}
	out, err := execute(t, app, "collect-social", "--client", "c1", "--platforms", "tiktok, instagram", "--no-hashtags")
	require.NoError(t, err)

	require.Equal(t, "c1", app.clientID)
	require.Equal(t, []media.Platform{media.PlatformTikTok, media.PlatformInstagram}, app.opts.Platforms)
	require.True(t, app.opts.SkipHashtags)
	require.False(t, app.opts.SkipHandles)

	var stats social.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Equal(t, 2, stats.New)
}

func TestCollectSocialRejectsUnknownPlatform(t *testing.T) {
	_, err := execute(t, &fakeApp{}, "collect-social", "--platforms", "myspace")
	require.ErrorContains(t, err, "unknown platform")
}

func TestGroundDefaultsAndErrors(t *testing.T) {
	app := &fakeApp{}
	out, err := execute(t, app, "ground", "--client", "c1")
	require.NoError(t, err)
	require.Equal(t, 7, app.days)
	require.Equal(t, media.TriggerManual, app.trigger)
	require.Contains(t, out, `"mentionsCreated":1`)

	_, err = execute(t, &fakeApp{}, "ground")
	require.ErrorContains(t, err, "client")

	_, err = execute(t, &fakeApp{}, "ground", "--client", "c1", "--days", "0")
	require.ErrorContains(t, err, "--days")

	_, err = execute(t, &fakeApp{groundErr: media.ErrNotFound}, "ground", "--client", "nope")
	require.True(t, errors.Is(err, media.ErrNotFound))
}

func TestArchiveAndWatchdogPrintResults(t *testing.T) {
	out, err := execute(t, &fakeApp{}, "archive")
	require.NoError(t, err)
	require.JSONEq(t, `{"mentionsArchived":4,"socialArchived":1}`, out)

	out, err = execute(t, &fakeApp{}, "watchdog")
	require.NoError(t, err)
	require.Equal(t, "healthy\n", out)
}

func TestRootFailsOnInvalidConfig(t *testing.T) {
	t.Setenv("MEDIAWATCH_ARTICLES_MAX_AGE_DAYS", "0")
	_, err := execute(t, &fakeApp{}, "archive")
	require.ErrorContains(t, err, "load config")
}
