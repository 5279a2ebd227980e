package fill

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"sync"
	"testing"
	"time"

	"sitecheck/internal/model"
	"sitecheck/internal/photo"
	"sitecheck/internal/store"
	"sitecheck/internal/syncapi"

	"github.com/stretchr/testify/require"
)

type completeCall struct {
	projectID    string
	inspectionID string
	signature    *string
}

// fakeAPI plays every endpoint of the remote API in memory
type fakeAPI struct {
	mu          sync.Mutex
	instance    model.ChecklistInstance
	nextID      int
	creates     map[string]int
	uploads     []syncapi.UploadInput
	completes   []completeCall
	createErr   error
	updateErr   error
	completeErr error
	uploadFail  map[string]bool
	// gate, when set, holds every response write until it is received from
	gate    chan struct{}
	started chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		instance: model.ChecklistInstance{
			ID:           "inst-1",
			ProjectID:    "proj-1",
			InspectionID: "insp-1",
			Status:       model.InstanceInProgress,
			Template: model.ChecklistTemplate{
				ID: "tpl-1",
				Subsections: []model.Subsection{{
					ID:    "sub-1",
					Order: 1,
					Name:  "Exterior",
					Items: []model.ItemTemplate{
						{ID: "item-a", Order: 1, Name: "Facade", RequiresPhoto: true},
						{ID: "item-b", Order: 2, Name: "Gutters"},
					},
				}},
			},
		},
		creates:    make(map[string]int),
		uploadFail: make(map[string]bool),
	}
}

func (f *fakeAPI) addItem(item model.ItemTemplate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &f.instance.Template.Subsections[0]
	sub.Items = append(sub.Items, item)
}

func (f *fakeAPI) seed(r model.ItemResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instance.Responses = append(f.instance.Responses, r)
}

func (f *fakeAPI) set(fn func(f *fakeAPI)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeAPI) hold(ctx context.Context) error {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate == nil {
		return nil
	}
	select {
	case <-f.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeAPI) FetchInstance(ctx context.Context, instanceID string) (*model.ChecklistInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst := f.instance.Clone()
	return &inst, nil
}

func (f *fakeAPI) CreateResponse(ctx context.Context, instanceID string, in syncapi.CreateResponseInput) (*model.ItemResponse, error) {
	if err := f.hold(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	for _, r := range f.instance.Responses {
		if r.ItemTemplateID == in.ItemTemplateID {
			return nil, &syncapi.APIError{Status: http.StatusConflict, Code: "response_exists", Message: "exists"}
		}
	}
	f.creates[in.ItemTemplateID]++
	f.nextID++
	r := in.ResponseFields.Apply(model.ItemResponse{
		ID:             fmt.Sprintf("resp-%d", f.nextID),
		InstanceID:     instanceID,
		ItemTemplateID: in.ItemTemplateID,
		Status:         model.StatusPending,
	})
	f.instance.Responses = append(f.instance.Responses, r)
	out := r.Clone()
	return &out, nil
}

func (f *fakeAPI) UpdateResponse(ctx context.Context, instanceID, responseID string, fields model.ResponseFields) (*model.ItemResponse, error) {
	if err := f.hold(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	for i, r := range f.instance.Responses {
		if r.ID == responseID {
			f.instance.Responses[i] = fields.Apply(r)
			out := f.instance.Responses[i].Clone()
			return &out, nil
		}
	}
	return nil, &syncapi.APIError{Status: http.StatusNotFound, Message: "no response"}
}

func (f *fakeAPI) UploadFile(ctx context.Context, projectID string, in syncapi.UploadInput) (*syncapi.UploadedFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadFail[in.FileName] {
		return nil, &syncapi.APIError{Status: http.StatusBadGateway, Message: "storage unavailable"}
	}
	f.uploads = append(f.uploads, in)
	return &syncapi.UploadedFile{StoragePath: fmt.Sprintf("projects/%s/%d-%s", projectID, len(f.uploads), in.FileName)}, nil
}

func (f *fakeAPI) CompleteInspection(ctx context.Context, projectID, inspectionID string, signature *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completes = append(f.completes, completeCall{projectID, inspectionID, signature})
	f.instance.Status = model.InstanceCompleted
	return nil
}

func (f *fakeAPI) createCount(itemID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates[itemID]
}

// newController loads the fake instance into a real store
func newController(t *testing.T, api *fakeAPI) (*Controller, *store.Store) {
	t.Helper()
	st := store.New(api, time.Second, nil)
	require.NoError(t, st.Load(context.Background(), "inst-1"))
	pipeline := photo.NewPipeline(photo.Options{MaxPhotos: 3}, nil, nil)
	c := New(st, api, api, pipeline, Options{}, nil)
	t.Cleanup(c.Teardown)
	return c, st
}

func pngFile(t *testing.T, name string) photo.RawFile {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return photo.RawFile{Name: name, ContentType: "image/png", Data: buf.Bytes()}
}
