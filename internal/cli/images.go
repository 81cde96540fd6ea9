package cli

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"segclient/internal/store"
	"segclient/pkg/types"
)

// maxParallelUploads bounds concurrent uploads of one invocation.
const maxParallelUploads = 4

func (a *app) uploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "upload <file>...",
		Short:   "Upload images; the last one becomes current",
		Example: "  segctl upload coast.png\n  segctl upload a.jpg b.png c.webp",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := a.workspace(ctx, modeLocal, nil)
			if err != nil {
				return err
			}

			uploaded := make([]*types.ImageInfo, len(args))
			var (
				mu   sync.Mutex
				errs []error
			)
			var g errgroup.Group
			g.SetLimit(maxParallelUploads)
			for i, path := range args {
				g.Go(func() error {
					f, err := store.FileFromPath(path)
					if err == nil {
						uploaded[i], err = ws.Upload(ctx, f)
					}
					if err != nil {
						mu.Lock()
						errs = append(errs, fmt.Errorf("%s: %w", path, err))
						mu.Unlock()
					}
					return nil
				})
			}
			_ = g.Wait()

			// Uploads finish in any order; make the last argument current.
			for i := len(uploaded) - 1; i >= 0; i-- {
				if uploaded[i] != nil {
					ws.Images.LoadImageFromHistory(uploaded[i].ID)
					break
				}
			}
			var done []types.ImageInfo
			for _, img := range uploaded {
				if img != nil {
					done = append(done, *img)
				}
			}
			if err := a.p.emit(done, func() { a.imageTable(done, "") }); err != nil {
				return err
			}
			return errors.Join(errs...)
		},
	}
}

func (a *app) imagesCmd() *cobra.Command {
	c := group("images", "Manage the current image and image history")

	c.AddCommand(&cobra.Command{
		Use:   "history",
		Short: "List recently used images, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.workspace(cmd.Context(), modeLocal, nil)
			if err != nil {
				return err
			}
			st := ws.Images.Snapshot()
			cur := ""
			if st.Current != nil {
				cur = st.Current.ID
			}
			return a.p.emit(st.History, func() { a.imageTable(st.History, cur) })
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "use <id>",
		Short: "Make an image current, from history or the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.workspace(cmd.Context(), modeLocal, nil)
			if err != nil {
				return err
			}
			if !ws.Images.LoadImageFromHistory(args[0]) {
				img, err := a.api.GetImageInfo(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				ws.Images.SetCurrentImage(img)
			}
			cur := ws.Images.Current()
			return a.p.emit(cur, func() { a.imageDetails(*cur) })
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "current",
		Short: "Show the current image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.workspace(cmd.Context(), modeLocal, nil)
			if err != nil {
				return err
			}
			cur := ws.Images.Current()
			if cur == nil {
				return errNoCurrentImage
			}
			return a.p.emit(cur, func() { a.imageDetails(*cur) })
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop the current image; history is kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.workspace(cmd.Context(), modeLocal, nil)
			if err != nil {
				return err
			}
			ws.ClearImage()
			return nil
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "forget <id>",
		Short: "Remove an image from the history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.workspace(cmd.Context(), modeLocal, nil)
			if err != nil {
				return err
			}
			if !ws.Images.RemoveFromHistory(args[0]) {
				return fmt.Errorf("image %s is not in the history", args[0])
			}
			a.p.infof("forgot %s", args[0])
			return nil
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "info <id>",
		Short: "Fetch image metadata from the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.client()
			if err != nil {
				return err
			}
			img, err := api.GetImageInfo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.p.emit(img, func() { a.imageDetails(*img) })
		},
	})

	var limit, offset int
	list := &cobra.Command{
		Use:   "list",
		Short: "Page through images stored by the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.client()
			if err != nil {
				return err
			}
			page, err := api.ListImages(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			return a.p.emit(page, func() {
				a.imageTable(page.Images, "")
				a.p.infof("%d-%d of %d", page.Offset+min(1, len(page.Images)), page.Offset+len(page.Images), page.TotalCount)
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Page size")
	list.Flags().IntVar(&offset, "offset", 0, "Page offset")
	c.AddCommand(list)
	return c
}

// imageTable lists images, marking current with an asterisk.
func (a *app) imageTable(images []types.ImageInfo, current string) {
	if len(images) == 0 {
		a.p.infof("no images")
		return
	}
	rows := make([][]string, 0, len(images))
	for _, img := range images {
		mark := ""
		if img.ID == current {
			mark = "*"
		}
		rows = append(rows, []string{mark, img.ID, img.OriginalFilename, dims(img), humanBytes(img.Size), img.ContentType})
	}
	a.p.table([]string{"", "id", "name", "size", "bytes", "type"}, rows)
}

func (a *app) imageDetails(img types.ImageInfo) {
	a.p.kv(
		"id", img.ID,
		"name", img.OriginalFilename,
		"stored as", img.Filename,
		"type", img.ContentType,
		"size", dims(img),
		"bytes", humanBytes(img.Size),
		"url", a.resolve(img.URL),
		"created", img.CreatedAt,
	)
}

func dims(img types.ImageInfo) string {
	if img.Width() == 0 && img.Height() == 0 {
		return "-"
	}
	return fmt.Sprintf("%dx%d", img.Width(), img.Height())
}
