package chunkstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strings"
)

const (
	DefaultGoogleDriveAPI    = "https://www.googleapis.com"
	googleDriveUploadPath    = "/upload/drive/v3/files?uploadType=multipart&fields=id"
	googleDriveFilesEndpoint = "/drive/v3/files/"
)

// GoogleDriveAPI talks to the Drive v3 REST API.
type GoogleDriveAPI struct {
	client  *http.Client
	baseURL string
	// folderID, when set, is the Drive folder chunks are created in.
	folderID string
}

func NewGoogleDriveAPI(client *http.Client, baseURL, folderID string) *GoogleDriveAPI {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultGoogleDriveAPI
	}
	return &GoogleDriveAPI{client: client, baseURL: strings.TrimRight(baseURL, "/"), folderID: folderID}
}

type driveMetadata struct {
	Name    string   `json:"name"`
	Parents []string `json:"parents,omitempty"`
}

func (g *GoogleDriveAPI) Upload(ctx context.Context, token, name string, data []byte) (string, error) {
	meta := driveMetadata{Name: path.Base(name)}
	if g.folderID != "" {
		meta.Parents = []string{g.folderID}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	metaPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return "", err
	}
	if err := json.NewEncoder(metaPart).Encode(meta); err != nil {
		return "", err
	}
	dataPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/octet-stream"}})
	if err != nil {
		return "", err
	}
	if _, err := dataPart.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+googleDriveUploadPath, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())

	resp, err := doRequest(ctx, g.client, req, http.StatusOK, http.StatusCreated)
	if err != nil {
		return "", err
	}
	return decodeItemID(ctx, resp)
}

func (g *GoogleDriveAPI) Download(ctx context.Context, token, id string) ([]byte, error) {
	u := fmt.Sprintf("%s%s%s?alt=media", g.baseURL, googleDriveFilesEndpoint, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := doRequest(ctx, g.client, req, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return readBody(ctx, resp)
}

func (g *GoogleDriveAPI) Delete(ctx context.Context, token, id string) error {
	u := g.baseURL + googleDriveFilesEndpoint + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := doRequest(ctx, g.client, req, http.StatusOK, http.StatusNoContent)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
