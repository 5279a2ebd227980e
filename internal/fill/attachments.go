package fill

import (
	"context"
	"fmt"
	"slices"

	"sitecheck/internal/model"
	"sitecheck/internal/photo"
	"sitecheck/internal/signature"
	"sitecheck/internal/syncapi"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var signatureMimes = []string{"image/png", "image/jpeg"}

// PhotoSaveResult reports what SavePhotos uploaded and what it dropped
type PhotoSaveResult struct {
	Uploaded []string
	Dropped  []photo.Rejection
}

// attachedCountLocked is the number of photos the open item shows
func (c *Controller) attachedCountLocked(d *draft) int {
	saved, _ := c.store.Response(d.itemID)
	n := len(d.staged)
	for _, u := range saved.ImageURLs {
		if !d.removed[u] {
			n++
		}
	}
	return n
}

// AddPhotos compresses files and stages them on the open item. Files beyond
// the photo limit and files that fail to process are reported in the result
// and never staged.
func (c *Controller) AddPhotos(ctx context.Context, files []photo.RawFile) (photo.BatchResult, error) {
	c.mu.Lock()
	d := c.open
	if d == nil {
		c.mu.Unlock()
		return photo.BatchResult{}, ErrNoOpenItem
	}
	seq := d.seq
	attached := c.attachedCountLocked(d)
	c.mu.Unlock()

	res := c.pipeline.Process(ctx, files, attached)

	c.mu.Lock()
	defer c.mu.Unlock()
	d = c.draftFor(seq)
	if d == nil {
		for _, ph := range res.Accepted {
			c.pipeline.Release(ph)
		}
		return res, ErrNoOpenItem
	}
	for _, ph := range res.Accepted {
		d.staged = append(d.staged, stagedPhoto{photo: ph})
	}
	return res, nil
}

// RemovePhoto removes a photo from the open item. A staged photo is dropped
// and its preview released; a saved URL is left out of the next photo save.
func (c *Controller) RemovePhoto(ref string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.open
	if d == nil {
		return ErrNoOpenItem
	}

	if photo.IsPreviewRef(ref) {
		for i, sp := range d.staged {
			if sp.photo.PreviewRef == ref {
				c.pipeline.Release(sp.photo)
				d.staged = append(d.staged[:i], d.staged[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrUnknownPhoto, ref)
	}

	saved, _ := c.store.Response(d.itemID)
	if !slices.Contains(saved.ImageURLs, ref) || d.removed[ref] {
		return fmt.Errorf("%w: %s", ErrUnknownPhoto, ref)
	}
	d.removed[ref] = true
	return nil
}

// SavePhotos uploads every staged photo of the open item and writes the
// saved URLs that were not removed plus the new ones, along with the draft
// notes. A photo whose upload fails is dropped; the rest are still written.
func (c *Controller) SavePhotos(ctx context.Context) (PhotoSaveResult, error) {
	snap, err := c.beginSave()
	if err != nil {
		return PhotoSaveResult{}, err
	}
	inst, err := c.instance()
	if err != nil {
		c.endSave(snap.itemID, err)
		return PhotoSaveResult{}, err
	}

	paths := make([]string, len(snap.staged))
	failures := make([]error, len(snap.staged))

	var g errgroup.Group
	g.SetLimit(c.opts.UploadConcurrency)
	for i, sp := range snap.staged {
		if sp.storagePath != "" {
			paths[i] = sp.storagePath
			continue
		}
		i, sp := i, sp
		g.Go(func() error {
			up, err := c.uploader.UploadFile(ctx, inst.ProjectID, syncapi.UploadInput{
				EntityType:  EntityType,
				EntityID:    inst.ID,
				FileName:    snap.itemID + "-" + sp.photo.Name,
				ContentType: sp.photo.ContentType,
				Data:        sp.photo.Data,
			})
			if err != nil {
				failures[i] = err
				return nil
			}
			paths[i] = up.StoragePath
			return nil
		})
	}
	_ = g.Wait()

	var res PhotoSaveResult
	uploadedRefs := make(map[string]string)
	for i, sp := range snap.staged {
		if failures[i] != nil {
			c.log.Warn("Photo upload failed, dropping it",
				zap.String("item_id", snap.itemID),
				zap.String("name", sp.photo.Name),
				zap.Error(failures[i]),
			)
			res.Dropped = append(res.Dropped, photo.Rejection{Name: sp.photo.Name, Reason: failures[i]})
			continue
		}
		res.Uploaded = append(res.Uploaded, paths[i])
		uploadedRefs[sp.photo.PreviewRef] = paths[i]
	}
	c.settleUploads(snap.seq, uploadedRefs, failures, snap.staged)

	notes := c.notesField(snap)
	if len(res.Uploaded) == 0 && len(snap.removed) == 0 {
		if notes == nil {
			c.endSave(snap.itemID, nil)
			return res, nil
		}
		_, err = c.persist(ctx, snap.itemID, model.ResponseFields{Notes: notes})
		c.endSave(snap.itemID, err)
		if err != nil {
			return res, fmt.Errorf("save photos: %w", err)
		}
		return res, nil
	}

	saved, _ := c.store.Response(snap.itemID)
	urls := make([]string, 0, len(saved.ImageURLs)+len(res.Uploaded))
	for _, u := range saved.ImageURLs {
		if !snap.removed[u] {
			urls = append(urls, u)
		}
	}
	urls = append(urls, res.Uploaded...)

	_, err = c.persist(ctx, snap.itemID, model.ResponseFields{
		ImageURLs: &urls,
		Notes:     notes,
	})
	c.endSave(snap.itemID, err)
	if err != nil {
		c.log.Warn("Photo save failed", zap.String("item_id", snap.itemID), zap.Error(err))
		return res, fmt.Errorf("save photos: %w", err)
	}

	c.mu.Lock()
	if d := c.draftFor(snap.seq); d != nil {
		kept := d.staged[:0]
		for _, sp := range d.staged {
			if _, done := uploadedRefs[sp.photo.PreviewRef]; done {
				c.pipeline.Release(sp.photo)
				continue
			}
			kept = append(kept, sp)
		}
		d.staged = kept
		for u := range snap.removed {
			delete(d.removed, u)
		}
	}
	c.mu.Unlock()

	c.log.Debug("Saved photos",
		zap.String("item_id", snap.itemID),
		zap.Int("uploaded", len(res.Uploaded)),
		zap.Int("dropped", len(res.Dropped)),
	)
	return res, nil
}

// settleUploads records storage paths on the staged photos so a retried
// write does not upload them again, and drops the ones that failed.
func (c *Controller) settleUploads(seq uint64, uploaded map[string]string, failures []error, staged []stagedPhoto) {
	failed := make(map[string]bool)
	for i, sp := range staged {
		if failures[i] != nil {
			failed[sp.photo.PreviewRef] = true
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.draftFor(seq)
	if d == nil {
		return
	}
	kept := d.staged[:0]
	for _, sp := range d.staged {
		ref := sp.photo.PreviewRef
		if failed[ref] {
			c.pipeline.Release(sp.photo)
			continue
		}
		if p, ok := uploaded[ref]; ok {
			sp.storagePath = p
		}
		kept = append(kept, sp)
	}
	d.staged = kept
}

// AttachSignaturePad returns a pad for the open item. Every completed stroke
// and every clear is recorded as the item's draft signature.
func (c *Controller) AttachSignaturePad(viewportWidth int) (*signature.Pad, error) {
	inst, err := c.instance()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.open
	if d == nil {
		return nil, ErrNoOpenItem
	}
	item, _ := inst.Template.FindItem(d.itemID)
	if d.pad != nil {
		d.pad.Resize(viewportWidth)
		return d.pad, nil
	}

	seq := d.seq
	d.pad = signature.NewPad(signature.Options{
		ViewportWidth: viewportWidth,
		LineWidth:     c.opts.SignatureLineWidth,
		Required:      item.RequiresSignature,
		OnChange: func(dataURL string) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if d := c.draftFor(seq); d != nil {
				d.signature = dataURL
				d.signatureSet = true
			}
		},
	})
	return d.pad, nil
}

// SetSignature records a signature data URL as the open item's draft. An
// empty value means the signature was cleared.
func (c *Controller) SetSignature(dataURL string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == nil {
		return ErrNoOpenItem
	}
	c.open.signature = dataURL
	c.open.signatureSet = true
	return nil
}

// SaveSignature uploads the draft signature and writes its storage path to
// the response. A cleared draft removes the saved signature.
func (c *Controller) SaveSignature(ctx context.Context) error {
	snap, err := c.beginSave()
	if err != nil {
		return err
	}
	if !snap.signatureSet {
		c.endSave(snap.itemID, nil)
		return nil
	}

	path := ""
	if snap.signature != "" {
		path, err = c.uploadSignature(ctx, snap)
		if err != nil {
			c.endSave(snap.itemID, err)
			c.log.Warn("Signature upload failed", zap.String("item_id", snap.itemID), zap.Error(err))
			return fmt.Errorf("save signature: %w", err)
		}
	}

	_, err = c.persist(ctx, snap.itemID, model.ResponseFields{
		SignatureURL: model.StringPtr(path),
		Notes:        c.notesField(snap),
	})
	c.endSave(snap.itemID, err)
	if err != nil {
		c.log.Warn("Signature save failed", zap.String("item_id", snap.itemID), zap.Error(err))
		return fmt.Errorf("save signature: %w", err)
	}

	c.mu.Lock()
	if d := c.draftFor(snap.seq); d != nil && d.signature == snap.signature {
		d.signature = ""
		d.signatureSet = false
	}
	c.mu.Unlock()
	return nil
}

func (c *Controller) uploadSignature(ctx context.Context, snap snapshot) (string, error) {
	inst, err := c.instance()
	if err != nil {
		return "", err
	}
	data, mime, err := signature.DecodeDataURL(snap.signature, signatureMimes, c.opts.MaxSignatureBytes)
	if err != nil {
		return "", err
	}
	name := snap.itemID + "-signature.png"
	if mime == "image/jpeg" {
		name = snap.itemID + "-signature.jpg"
	}
	up, err := c.uploader.UploadFile(ctx, inst.ProjectID, syncapi.UploadInput{
		EntityType:  EntityType,
		EntityID:    inst.ID,
		FileName:    name,
		ContentType: mime,
		Data:        data,
	})
	if err != nil {
		return "", err
	}
	return up.StoragePath, nil
}
