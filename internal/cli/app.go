package cli

import (
	"bufio"
	"context"
	"io"
	"iter"
	"os"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/server/models"
	"github.com/dmitrijs2005/chunkvault/internal/server/services"
	"github.com/dmitrijs2005/chunkvault/internal/tokenbroker"
)

// FileService is the part of *services.FileService the console drives.
type FileService interface {
	Upload(ctx context.Context, userID, name string, r io.Reader, opts services.UploadOptions) (*models.File, error)
	DownloadStream(ctx context.Context, userID, fileID string) (*models.File, iter.Seq2[[]byte, error], error)
	Delete(ctx context.Context, userID, fileID string) (bool, error)
	CreateFolder(ctx context.Context, userID, name string, parentID *string) (*models.File, error)
	List(ctx context.Context, userID string, parentID *string) ([]*models.File, error)
	MigrateToRemote(ctx context.Context, userID, fileID, backend string) (int, error)
	SweepAbandoned(ctx context.Context, olderThan time.Duration) (services.SweepResult, error)
	StorageUsage(ctx context.Context, userID string) (services.StorageUsage, error)
}

// AccountService connects remote backends; *tokenbroker.Broker implements it.
type AccountService interface {
	Connect(ctx context.Context, userID, backend string, set tokenbroker.TokenSet) (*models.RemoteAccount, error)
	Disconnect(ctx context.Context, userID, backend string) error
}

// UserStore creates and looks up users; users.Repository implements it.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	Get(ctx context.Context, id string) (*models.User, error)
}

type App struct {
	files      FileService
	accounts   AccountService
	users      UserStore
	stagingTTL time.Duration

	userID string
	cwd    *models.File

	reader *bufio.Reader
	out    io.Writer
}

func NewApp(files FileService, accounts AccountService, users UserStore, stagingTTL time.Duration) *App {
	return &App{
		files:      files,
		accounts:   accounts,
		users:      users,
		stagingTTL: stagingTTL,
		reader:     bufio.NewReader(os.Stdin),
		out:        os.Stdout,
	}
}

func (a *App) hasUser() bool {
	return a.userID != ""
}

// status is shown in the prompt: the selected user and current folder.
func (a *App) status() string {
	if !a.hasUser() {
		return "(no user)"
	}
	dir := "/"
	if a.cwd != nil {
		dir = a.cwd.Path
	}
	return a.userID + ":" + dir
}

func (a *App) parentID() *string {
	if a.cwd == nil {
		return nil
	}
	id := a.cwd.ID
	return &id
}

// Run reads commands from the app's reader until EOF or "exit".
func (a *App) Run(ctx context.Context) {
	runREPL(ctx, a, a.status, a.reader)
}
