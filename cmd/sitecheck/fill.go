package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"text/tabwriter"

	"sitecheck/internal/model"
	"sitecheck/internal/photo"

	"github.com/spf13/cobra"
)

var (
	fillStatus         string
	fillNotes          string
	fillPhotos         []string
	fillRemovePhotos   []string
	fillSignature      string
	fillClearSignature bool
)

var fillCmd = &cobra.Command{
	Use:   "fill <instance-id> <item-id>",
	Short: "Record status, notes, photos or a signature for one item",
	Long: `fill opens one item the way the inspection screen does and applies, in
order: the note draft, photo additions and removals, the signature, and the
status selection. Only the fields that changed are written.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		itemID := args[1]
		if _, err := s.ctrl.Open(itemID); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		var saving sync.Once
		unsubscribe := s.store.OnChange(func() {
			if s.store.IsSaving(itemID) {
				saving.Do(func() { fmt.Fprintf(cmd.ErrOrStderr(), "saving %s...\n", itemID) })
			}
		})
		defer unsubscribe()

		if cmd.Flags().Changed("notes") {
			if err := s.ctrl.SetNotes(fillNotes); err != nil {
				return err
			}
		}

		if len(fillPhotos) > 0 || len(fillRemovePhotos) > 0 {
			if err := applyPhotos(cmd, s, out); err != nil {
				return err
			}
		}

		if fillSignature != "" || fillClearSignature {
			if err := applySignature(cmd, s); err != nil {
				return err
			}
		}

		if fillStatus != "" {
			status, err := model.ParseResponseStatus(fillStatus)
			if err != nil {
				return err
			}
			if err := s.ctrl.SelectStatus(ctx, status); err != nil {
				return err
			}
		} else if err := s.ctrl.SaveNotes(ctx); err != nil {
			return err
		}
		s.ctrl.Close()

		view, err := s.ctrl.Item(itemID)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
		writeItem(tw, view)
		return tw.Flush()
	},
}

func applyPhotos(cmd *cobra.Command, s *session, out io.Writer) error {
	ctx := cmd.Context()
	if len(fillPhotos) > 0 {
		// files given on the command line always come from a picker
		hint := photo.CaptureHint(photo.SelectSource(photo.Capabilities{}))
		fmt.Fprintf(out, "attaching %d photo(s) from %s (accept %s)\n", len(fillPhotos), captureSource(hint), hint.Accept)

		files := make([]photo.RawFile, 0, len(fillPhotos))
		for _, path := range fillPhotos {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read photo: %w", err)
			}
			files = append(files, photo.RawFile{Name: filepath.Base(path), Data: data})
		}
		batch, err := s.ctrl.AddPhotos(ctx, files)
		if err != nil {
			return err
		}
		for _, rej := range batch.Rejected {
			fmt.Fprintf(out, "skipped %s: %v\n", rej.Name, rej.Reason)
		}
	}

	for _, ref := range fillRemovePhotos {
		if err := s.ctrl.RemovePhoto(ref); err != nil {
			return err
		}
	}

	res, err := s.ctrl.SavePhotos(ctx)
	for _, d := range res.Dropped {
		fmt.Fprintf(out, "upload failed for %s: %v\n", d.Name, d.Reason)
	}
	return err
}

func captureSource(h photo.Hint) string {
	if h.Capture != "" {
		return "camera"
	}
	return "file picker"
}

func applySignature(cmd *cobra.Command, s *session) error {
	if fillClearSignature {
		if err := s.ctrl.SetSignature(""); err != nil {
			return err
		}
	} else {
		strokes, err := loadStrokes(fillSignature)
		if err != nil {
			return err
		}
		pad, err := s.ctrl.AttachSignaturePad(cfg.Signature.ViewportWidth)
		if err != nil {
			return err
		}
		if _, err := pad.Replay(strokes); err != nil {
			return err
		}
	}
	return s.ctrl.SaveSignature(cmd.Context())
}

func init() {
	fillCmd.Flags().StringVar(&fillStatus, "status", "", "status: approved, rejected, not_applicable or pending")
	fillCmd.Flags().StringVar(&fillNotes, "notes", "", "note text (an empty value clears the note)")
	fillCmd.Flags().StringArrayVar(&fillPhotos, "photo", nil, "photo file to attach (repeatable)")
	fillCmd.Flags().StringArrayVar(&fillRemovePhotos, "remove-photo", nil, "storage path of a saved photo to remove (repeatable)")
	fillCmd.Flags().StringVar(&fillSignature, "signature", "", "stroke file to sign with")
	fillCmd.Flags().BoolVar(&fillClearSignature, "clear-signature", false, "remove the saved signature")
	fillCmd.MarkFlagsMutuallyExclusive("signature", "clear-signature")
}
