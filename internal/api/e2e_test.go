package api

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"testing"
	"time"

	"sitecheck/internal/fill"
	"sitecheck/internal/model"
	"sitecheck/internal/photo"
	"sitecheck/internal/signature"
	"sitecheck/internal/store"
	"sitecheck/internal/syncapi"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func photoFile(t *testing.T, name string, w, h int) photo.RawFile {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return photo.RawFile{Name: name, ContentType: "image/png", Data: buf.Bytes()}
}

// fillSession wires the fill engine to a running development API
func fillSession(t *testing.T, ts *testServer) (*fill.Controller, *store.Store, *syncapi.Client) {
	t.Helper()
	token, err := ts.jwt.IssueToken("inspector-1", time.Hour)
	require.NoError(t, err)

	client := syncapi.New(syncapi.Config{BaseURL: ts.URL, Token: token, Timeout: 5 * time.Second}, nil)
	st := store.New(client, 5*time.Second, nil)
	require.NoError(t, st.Load(context.Background(), "inst-demo"))

	pipeline := photo.NewPipeline(photo.Options{MaxPhotos: 3, MaxWidth: 200}, nil, nil)
	c := fill.New(st, client, client, pipeline, fill.Options{}, nil)
	t.Cleanup(c.Teardown)
	return c, st, client
}

func TestFillAndSubmitAgainstDevAPI(t *testing.T) {
	ts := newTestServer(t, serverOptions{redis: true})
	c, st, _ := fillSession(t, ts)
	ctx := context.Background()

	assert.False(t, c.CanSubmit())
	assert.Equal(t, 4, len(c.Blockers()))

	// photo-required item
	_, err := c.Open("item-facade")
	require.NoError(t, err)
	require.NoError(t, c.SelectStatus(ctx, model.StatusApproved))
	view, err := c.Item("item-facade")
	require.NoError(t, err)
	assert.Equal(t, []model.Requirement{model.RequirementPhoto}, view.Missing)

	batch, err := c.AddPhotos(ctx, []photo.RawFile{photoFile(t, "front.png", 640, 480)})
	require.NoError(t, err)
	require.Len(t, batch.Accepted, 1)
	saved, err := c.SavePhotos(ctx)
	require.NoError(t, err)
	assert.Len(t, saved.Uploaded, 1)

	resp, ok := st.Confirmed("item-facade")
	require.True(t, ok)
	require.Len(t, resp.ImageURLs, 1)
	meta, err := ts.pool.GetFileByPath(ctx, resp.ImageURLs[0])
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", meta.MIME)

	// plain item
	_, err = c.Open("item-gutters")
	require.NoError(t, err)
	require.NoError(t, c.SelectStatus(ctx, model.StatusNotApplicable))

	// note-required item
	_, err = c.Open("item-walls")
	require.NoError(t, err)
	require.NoError(t, c.SetNotes("hairline crack above door"))
	require.NoError(t, c.SelectStatus(ctx, model.StatusRejected))

	// signature-required item
	_, err = c.Open("item-handover")
	require.NoError(t, err)
	pad, err := c.AttachSignaturePad(signature.MaxWidth)
	require.NoError(t, err)
	_, err = pad.Replay([][]signature.Point{{{X: 20, Y: 40}, {X: 200, Y: 80}, {X: 380, Y: 60}}})
	require.NoError(t, err)
	require.NoError(t, c.SaveSignature(ctx))
	require.NoError(t, c.SelectStatus(ctx, model.StatusApproved))
	c.Close()

	require.True(t, c.CanSubmit(), "blockers: %v", c.Blockers())
	require.NoError(t, c.Submit(ctx, nil))
	assert.True(t, c.Submitted())

	inst, err := ts.pool.GetInstanceByID(ctx, "inst-demo")
	require.NoError(t, err)
	assert.Equal(t, model.InstanceCompleted, inst.Status)
	assert.Len(t, inst.Responses, 4)

	local, ok := st.Instance()
	require.True(t, ok)
	assert.Equal(t, model.InstanceCompleted, local.Status)
	assert.Equal(t, 4, c.Progress().Completed)

	// second submit is refused locally
	assert.ErrorIs(t, c.Submit(ctx, nil), fill.ErrAlreadyCompleted)
}

func TestStatusChangesReuseOneResponse(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	c, _, _ := fillSession(t, ts)
	ctx := context.Background()

	_, err := c.Open("item-gutters")
	require.NoError(t, err)
	for _, s := range []model.ResponseStatus{model.StatusApproved, model.StatusRejected, model.StatusNotApplicable} {
		require.NoError(t, c.SelectStatus(ctx, s))
	}

	inst, err := ts.pool.GetInstanceByID(ctx, "inst-demo")
	require.NoError(t, err)
	require.Len(t, inst.Responses, 1)
	assert.Equal(t, model.StatusNotApplicable, inst.Responses[0].Status)
}

func TestSecondDeviceCreateBecomesUpdate(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	ctx := context.Background()

	first, _, _ := fillSession(t, ts)
	second, _, _ := fillSession(t, ts)

	_, err := first.Open("item-gutters")
	require.NoError(t, err)
	require.NoError(t, first.SelectStatus(ctx, model.StatusApproved))

	// the second session loaded before the first wrote; its create hits 409
	_, err = second.Open("item-gutters")
	require.NoError(t, err)
	require.NoError(t, second.SelectStatus(ctx, model.StatusRejected))

	inst, err := ts.pool.GetInstanceByID(ctx, "inst-demo")
	require.NoError(t, err)
	require.Len(t, inst.Responses, 1)
	assert.Equal(t, model.StatusRejected, inst.Responses[0].Status)
}

func TestSubmitBlockedMakesNoCall(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	c, _, _ := fillSession(t, ts)

	err := c.Submit(context.Background(), nil)
	var blocked *fill.BlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Len(t, blocked.Blockers, 4)

	inst, err := ts.pool.GetInstanceByID(context.Background(), "inst-demo")
	require.NoError(t, err)
	assert.Equal(t, model.InstanceInProgress, inst.Status)
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	_, _, client := fillSession(t, ts)
	ctx := context.Background()

	_, err := client.CreateResponse(ctx, "inst-demo", syncapi.CreateResponseInput{ItemTemplateID: "item-unknown"})
	var apiErr *syncapi.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, "unknown_item", apiErr.Code)

	_, err = client.FetchInstance(ctx, "nope")
	assert.Equal(t, http.StatusNotFound, syncapi.StatusOf(err))
}
