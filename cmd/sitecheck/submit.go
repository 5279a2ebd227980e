package main

import (
	"errors"
	"fmt"

	"sitecheck/internal/fill"
	"sitecheck/internal/signature"
	"sitecheck/internal/syncapi"

	"github.com/spf13/cobra"
)

var submitSignature string

var submitCmd = &cobra.Command{
	Use:   "submit <instance-id>",
	Short: "Complete the inspection once every item is satisfied",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		var sigPath *string
		if submitSignature != "" {
			path, err := uploadCompletionSignature(cmd, s)
			if err != nil {
				return err
			}
			sigPath = &path
		}

		out := cmd.OutOrStdout()
		err = s.ctrl.Submit(ctx, sigPath)
		var blocked *fill.BlockedError
		if errors.As(err, &blocked) {
			fmt.Fprintln(out, "Cannot submit yet:")
			for _, b := range blocked.Blockers {
				fmt.Fprintf(out, "  - %s / %s: %s\n", b.Subsection, b.ItemName, b.Reason())
			}
			return err
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "Inspection submitted.")
		return nil
	},
}

// uploadCompletionSignature rasterises the stroke file and uploads it as
// the inspector's sign-off
func uploadCompletionSignature(cmd *cobra.Command, s *session) (string, error) {
	strokes, err := loadStrokes(submitSignature)
	if err != nil {
		return "", err
	}
	pad := signature.NewPad(signature.Options{
		ViewportWidth: cfg.Signature.ViewportWidth,
		LineWidth:     cfg.Signature.LineWidth,
	})
	dataURL, err := pad.Replay(strokes)
	if err != nil {
		return "", err
	}
	data, mime, err := signature.DecodeDataURL(dataURL, []string{"image/png"}, fill.DefaultMaxSignatureBytes)
	if err != nil {
		return "", err
	}

	inst, ok := s.store.Instance()
	if !ok {
		return "", fmt.Errorf("checklist not loaded")
	}
	up, err := s.client.UploadFile(cmd.Context(), inst.ProjectID, syncapi.UploadInput{
		EntityType:  "inspection",
		EntityID:    inst.CompletionTarget(),
		FileName:    "completion-signature.png",
		ContentType: mime,
		Data:        data,
	})
	if err != nil {
		return "", fmt.Errorf("upload signature: %w", err)
	}
	return up.StoragePath, nil
}

func init() {
	submitCmd.Flags().StringVar(&submitSignature, "signature", "", "stroke file with the inspector's sign-off")
}
