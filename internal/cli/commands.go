package cli

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/chunkvault/internal/chunkstore"
	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/filex"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
	"github.com/dmitrijs2005/chunkvault/internal/server/services"
	"github.com/dmitrijs2005/chunkvault/internal/tokenbroker"
)

func usage(s string) error {
	return fmt.Errorf("usage: %s", s)
}

func (a *App) UserAdd(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return usage("useradd <email> [quota-bytes]")
	}
	quota := common.DefaultStorageQuota
	if len(args) == 2 {
		q, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || q < 0 {
			return fmt.Errorf("invalid quota %q", args[1])
		}
		quota = q
	}

	u := &models.User{ID: uuid.NewString(), Email: args[0], StorageQuotaBytes: quota}
	if err := a.users.Create(ctx, u); err != nil {
		return err
	}
	a.userID, a.cwd = u.ID, nil
	fmt.Fprintf(a.out, "created user %s (%s)\n", u.ID, u.Email)
	return nil
}

func (a *App) UseUser(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("user <id>")
	}
	u, err := a.users.Get(ctx, args[0])
	if err != nil {
		return err
	}
	a.userID, a.cwd = u.ID, nil
	fmt.Fprintf(a.out, "using %s (%s)\n", u.ID, u.Email)
	return nil
}

func (a *App) List(ctx context.Context, args []string) error {
	parentID := a.parentID()
	if len(args) == 1 {
		parentID = &args[0]
	} else if len(args) > 1 {
		return usage("ls [folder-id]")
	}

	items, err := a.files.List(ctx, a.userID, parentID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSIZE\tNAME")
	for _, f := range items {
		kind := "file"
		if f.IsFolder {
			kind = "dir"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", f.ID, kind, f.Size, f.Name)
	}
	return w.Flush()
}

// ChangeDir enters a child of the current folder by id; "/" returns to
// the root.
func (a *App) ChangeDir(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("cd <folder-id> | cd /")
	}
	if args[0] == "/" {
		a.cwd = nil
		return nil
	}

	items, err := a.files.List(ctx, a.userID, a.parentID())
	if err != nil {
		return err
	}
	for _, f := range items {
		if f.ID == args[0] || f.Name == args[0] {
			if !f.IsFolder {
				return fmt.Errorf("%s is not a folder", f.Name)
			}
			a.cwd = f
			return nil
		}
	}
	return fmt.Errorf("no folder %q here", args[0])
}

func (a *App) Mkdir(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("mkdir <name>")
	}
	f, err := a.files.CreateFolder(ctx, a.userID, args[0], a.parentID())
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "created %s %s\n", f.ID, f.Path)
	return nil
}

func (a *App) Upload(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return usage("upload <local-path> [backend]")
	}
	opts := services.UploadOptions{ParentID: a.parentID()}
	if len(args) == 2 {
		opts.Backend = args[1]
	}
	opts.MimeType = mime.TypeByExtension(filepath.Ext(args[0]))
	if opts.MimeType == "" {
		opts.MimeType = "application/octet-stream"
	}

	in, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer in.Close()

	f, err := a.files.Upload(ctx, a.userID, filepath.Base(args[0]), in, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "uploaded %s %s (%d bytes)\n", f.ID, f.Path, f.Size)
	return nil
}

// Download streams the decrypted file into a temporary sibling of the
// destination and renames it into place once every block was written.
func (a *App) Download(ctx context.Context, args []string) (err error) {
	if len(args) != 2 {
		return usage("download <file-id> <local-path>")
	}
	dst := args[1]

	f, blocks, err := a.files.DownloadStream(ctx, a.userID, args[0])
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_, _ = filex.RemoveIfExists(tmp.Name())
		}
	}()

	var written int64
	for block, berr := range blocks {
		if berr != nil {
			return berr
		}
		n, werr := tmp.Write(block)
		if werr != nil {
			return werr
		}
		written += int64(n)
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "downloaded %s to %s (%d bytes)\n", f.Name, dst, written)
	return nil
}

func (a *App) Remove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("rm <id>")
	}
	deleted, err := a.files.Delete(ctx, a.userID, args[0])
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("nothing to delete for %s", args[0])
	}
	fmt.Fprintf(a.out, "deleted %s\n", args[0])
	return nil
}

func (a *App) Migrate(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("migrate <file-id> <backend>")
	}
	n, err := a.files.MigrateToRemote(ctx, a.userID, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "moved %d chunks to %s\n", n, args[1])
	return nil
}

// Connect stores credentials for a remote backend. S3 uses the server-wide
// keys, so only the account row is recorded; OAuth backends take a refresh
// token, and optionally a current access token, from the terminal.
func (a *App) Connect(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("connect <backend>")
	}
	backend := args[0]

	var set tokenbroker.TokenSet
	switch backend {
	case chunkstore.BackendS3:
	case chunkstore.BackendGoogleDrive, chunkstore.BackendOneDrive:
		refresh, err := GetSecret("Refresh token", a.out)
		if err != nil {
			return err
		}
		if refresh == "" {
			return errors.New("refresh token is required")
		}
		access, err := GetSecret("Access token (optional)", a.out)
		if err != nil {
			return err
		}
		account, err := GetSimpleText(a.reader, "Provider account id (optional)", a.out)
		if err != nil {
			return err
		}
		set = tokenbroker.TokenSet{AccessToken: access, RefreshToken: refresh, ProviderAccountID: account}
	default:
		return fmt.Errorf("unknown backend %q", backend)
	}

	if _, err := a.accounts.Connect(ctx, a.userID, backend, set); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "connected %s\n", backend)
	return nil
}

func (a *App) Disconnect(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("disconnect <backend>")
	}
	if err := a.accounts.Disconnect(ctx, a.userID, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "disconnected %s\n", args[0])
	return nil
}

// DiskUsage prints how much of the current user's quota is taken.
func (a *App) DiskUsage(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return usage("df")
	}
	u, err := a.files.StorageUsage(ctx, a.userID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "used %d of %d bytes (%.1f%%), %d available\n",
		u.UsedBytes, u.QuotaBytes, u.Percent(), u.AvailableBytes())
	return nil
}

func (a *App) Sweep(ctx context.Context, args []string) error {
	res, err := a.files.SweepAbandoned(ctx, a.stagingTTL)
	fmt.Fprintf(a.out, "swept %d pending files, %d local blobs, %d staging files\n",
		res.PendingFiles, res.LocalBlobs, res.StagingFiles)
	return err
}
